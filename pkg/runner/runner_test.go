package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oru-io/conduct/pkg/models"
)

func TestModeFor(t *testing.T) {
	tests := []struct {
		name string
		job  *models.Job
		want Mode
	}{
		{"bash without target is local", &models.Job{ScriptType: models.ScriptTypeBash}, ModeLocal},
		{"python without target is local", &models.Job{ScriptType: models.ScriptTypePython}, ModeLocal},
		{"bash with target is remote", &models.Job{ScriptType: models.ScriptTypeBash, Target: &models.Server{Host: "db1"}}, ModeRemote},
		{"http_request routes to http even with target", &models.Job{ScriptType: models.ScriptTypeHTTPRequest, Target: &models.Server{Host: "db1"}}, ModeHTTP},
		{"tool_action routes to tool", &models.Job{ScriptType: models.ScriptTypeToolAction}, ModeTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ModeFor(tt.job))
		})
	}
}

type stubRunner struct{ mode Mode }

func (s *stubRunner) Run(_ context.Context, _ *models.Job) (*models.ExecutionOutcome, error) {
	return &models.ExecutionOutcome{Status: models.ExecutionSuccess}, nil
}

func (s *stubRunner) Mode() Mode { return s.mode }

func TestRegistryRouting(t *testing.T) {
	registry := NewRegistry()
	local := &stubRunner{mode: ModeLocal}
	registry.Register(local)

	got, err := registry.For(&models.Job{ScriptType: models.ScriptTypeBash})
	require.NoError(t, err)
	assert.Same(t, local, got)

	_, err = registry.For(&models.Job{ScriptType: models.ScriptTypeToolAction})
	assert.ErrorIs(t, err, ErrNoRunner)
}

func TestParseConditionFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "condition")

	assert.Nil(t, ParseConditionFile(path), "absent file means no condition")

	require.NoError(t, os.WriteFile(path, []byte("true\n"), 0o600))
	got := ParseConditionFile(path)
	require.NotNil(t, got)
	assert.True(t, *got)

	require.NoError(t, os.WriteFile(path, []byte("0"), 0o600))
	got = ParseConditionFile(path)
	require.NotNil(t, got)
	assert.False(t, *got)

	require.NoError(t, os.WriteFile(path, []byte("maybe"), 0o600))
	assert.Nil(t, ParseConditionFile(path), "unparseable content means no condition")
}

func TestParseOutputFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.json")

	assert.Nil(t, ParseOutputFile(path))

	require.NoError(t, os.WriteFile(path, []byte(`{"rows": 42, "table": "users"}`), 0o600))
	got := ParseOutputFile(path)
	require.NotNil(t, got)
	assert.Equal(t, float64(42), got["rows"])
	assert.Equal(t, "users", got["table"])

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
	assert.Nil(t, ParseOutputFile(path))
}

func TestParseConditionString(t *testing.T) {
	assert.Nil(t, ParseCondition(""))
	assert.Nil(t, ParseCondition("  \n"))

	got := ParseCondition(" true ")
	require.NotNil(t, got)
	assert.True(t, *got)
}

func TestParseOutputString(t *testing.T) {
	assert.Nil(t, ParseOutput(""))
	assert.Nil(t, ParseOutput("[1,2,3]"), "top level must be an object")

	got := ParseOutput(`{"ok": true}`)
	require.NotNil(t, got)
	assert.Equal(t, true, got["ok"])
}

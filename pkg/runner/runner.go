// Package runner defines the execution backends that turn a dispatched job
// into an outcome: local interpreter spawn, remote execution over SSH, HTTP
// requests, and tool actions. Runners block only on I/O; watchdog and retry
// policy live in the dispatcher.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/oru-io/conduct/pkg/models"
)

// Environment variable contract exposed to scripts.
const (
	EnvOutputFile    = "CONDUCT_OUTPUT_FILE"
	EnvConditionFile = "CONDUCT_CONDITION_FILE"
	EnvEventID       = "CONDUCT_EVENT_ID"
	EnvExecutionID   = "CONDUCT_EXECUTION_ID"
)

// Mode selects the execution backend for a job.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
	ModeHTTP   Mode = "http"
	ModeTool   Mode = "tool"
)

// ModeFor routes a job to its backend.
func ModeFor(job *models.Job) Mode {
	switch {
	case job.ScriptType == models.ScriptTypeHTTPRequest:
		return ModeHTTP
	case job.ScriptType == models.ScriptTypeToolAction:
		return ModeTool
	case job.Target != nil:
		return ModeRemote
	default:
		return ModeLocal
	}
}

// Runner executes one job. Implementations must honor context
// cancellation: a cancelled run tears down the underlying process or
// session and returns.
type Runner interface {
	Run(ctx context.Context, job *models.Job) (*models.ExecutionOutcome, error)
	Mode() Mode
}

var ErrNoRunner = errors.New("no runner registered for mode")

// Registry maps execution modes to runners.
type Registry struct {
	runners map[Mode]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[Mode]Runner)}
}

func (r *Registry) Register(runner Runner) {
	r.runners[runner.Mode()] = runner
}

func (r *Registry) For(job *models.Job) (Runner, error) {
	mode := ModeFor(job)

	runner, ok := r.runners[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRunner, mode)
	}

	return runner, nil
}

// ParseConditionFile reads the boolean a script wrote to its condition
// file. Absent or empty means no condition was set.
func ParseConditionFile(path string) *bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	value, err := strconv.ParseBool(strings.TrimSpace(string(data)))
	if err != nil {
		return nil
	}

	return &value
}

// ParseOutputFile reads the structured JSON output a script wrote to its
// output file.
func ParseOutputFile(path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}

	var output map[string]any
	if err := json.Unmarshal(data, &output); err != nil {
		return nil
	}

	return output
}

// ParseCondition parses raw condition file content fetched from a remote
// host.
func ParseCondition(content string) *bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	value, err := strconv.ParseBool(content)
	if err != nil {
		return nil
	}

	return &value
}

// ParseOutput parses raw structured output fetched from a remote host.
func ParseOutput(content string) map[string]any {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var output map[string]any
	if err := json.Unmarshal([]byte(content), &output); err != nil {
		return nil
	}

	return output
}

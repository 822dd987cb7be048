package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oru-io/conduct/pkg/eventbus"
	"github.com/oru-io/conduct/pkg/events"
	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/persistence"
	"github.com/oru-io/conduct/pkg/persistence/file"
)

type capturingPublisher struct {
	mu        sync.Mutex
	published []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.published = append(p.published, event)

	return nil
}

func (p *capturingPublisher) last() eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.published) == 0 {
		return nil
	}

	return p.published[len(p.published)-1]
}

type testAPI struct {
	app         *fiber.App
	persistence persistence.Persistence
	bus         *capturingPublisher
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	p := file.NewPersistence(t.TempDir())
	bus := &capturingPublisher{}

	handlers := NewAPIHandlers(p, bus, validator.New(validator.WithRequiredStructEnabled()), logger)

	app := fiber.New()

	e := app.Group("/events")
	e.Get("/", handlers.GetEvents)
	e.Post("/", handlers.CreateEvent)
	e.Get("/:id", handlers.GetEvent)
	e.Patch("/:id", handlers.UpdateEvent)
	e.Delete("/:id", handlers.DeleteEvent)
	e.Post("/:id/run", handlers.RunEvent)
	e.Get("/:id/records", handlers.GetEventRecords)

	app.Get("/records/:id", handlers.GetRecord)
	app.Post("/webhooks/:id", handlers.TriggerWebhook)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Post("/:id/run", handlers.RunWorkflow)

	app.Get("/health", handlers.HealthCheck)

	return &testAPI{app: app, persistence: p, bus: bus}
}

func (a *testAPI) request(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer resp.Body.Close()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func (a *testAPI) saveEvent(t *testing.T, definition *models.EventDefinition) {
	t.Helper()
	require.NoError(t, a.persistence.Events().SaveEvent(context.Background(), definition))
}

func activeEvent(id string) *models.EventDefinition {
	return &models.EventDefinition{
		ID:          id,
		Name:        "backup " + id,
		ScriptType:  models.ScriptTypeBash,
		Script:      "true",
		RunLocation: models.RunLocationLocal,
		Status:      models.EventStatusActive,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestCreateEvent(t *testing.T) {
	api := newTestAPI(t)

	resp := api.request(t, http.MethodPost, "/events/", `{
		"name": "nightly backup",
		"script_type": "bash",
		"script": "pg_dump mydb",
		"run_location": "local"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.EventDefinition

	decodeJSON(t, resp, &created)
	assert.NotEmpty(t, created.ID, "server assigns an id")
	assert.Equal(t, models.EventStatusDraft, created.Status, "new events start as drafts")

	stored, err := api.persistence.Events().EventByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly backup", stored.Name)
}

func TestCreateEventRejectsInvalidDefinition(t *testing.T) {
	api := newTestAPI(t)

	// Missing script body for a bash event.
	resp := api.request(t, http.MethodPost, "/events/", `{
		"name": "broken",
		"script_type": "bash",
		"run_location": "local"
	}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.request(t, http.MethodPost, "/events/", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetEventNotFound(t *testing.T) {
	api := newTestAPI(t)

	resp := api.request(t, http.MethodGet, "/events/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/problem+json")
}

func TestUpdateEventProtectsIdentityFields(t *testing.T) {
	api := newTestAPI(t)

	definition := activeEvent("ev-1")
	definition.ExecutionCount = 7
	api.saveEvent(t, definition)

	resp := api.request(t, http.MethodPatch, "/events/ev-1", `{
		"id": "hijacked",
		"name": "renamed",
		"execution_count": 0
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.EventDefinition

	decodeJSON(t, resp, &updated)
	assert.Equal(t, "ev-1", updated.ID)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, int64(7), updated.ExecutionCount)
}

func TestDeleteEvent(t *testing.T) {
	api := newTestAPI(t)
	api.saveEvent(t, activeEvent("ev-1"))

	resp := api.request(t, http.MethodDelete, "/events/ev-1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.request(t, http.MethodGet, "/events/ev-1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunEventPublishesManualTrigger(t *testing.T) {
	api := newTestAPI(t)
	api.saveEvent(t, activeEvent("ev-1"))

	resp := api.request(t, http.MethodPost, "/events/ev-1/run", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string

	decodeJSON(t, resp, &body)
	assert.NotEmpty(t, body["trigger_id"])
	assert.Equal(t, "ev-1", body["event_id"])

	triggered, ok := api.bus.last().(events.EventTriggered)
	require.True(t, ok)
	assert.Equal(t, models.TriggerManual, triggered.Trigger.Type)
	assert.Equal(t, 1, triggered.Trigger.Attempt)
}

func TestRunEventRejectsNonRunnableStatuses(t *testing.T) {
	api := newTestAPI(t)

	draft := activeEvent("draft")
	draft.Status = models.EventStatusDraft
	api.saveEvent(t, draft)

	resp := api.request(t, http.MethodPost, "/events/draft/run", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Paused events accept manual runs.
	paused := activeEvent("paused")
	paused.Status = models.EventStatusPaused
	api.saveEvent(t, paused)

	resp = api.request(t, http.MethodPost, "/events/paused/run", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestRunEventConflictsWhileExecutionInFlight(t *testing.T) {
	api := newTestAPI(t)
	api.saveEvent(t, activeEvent("ev-1"))

	require.NoError(t, api.persistence.Executions().CreateRecord(context.Background(), &models.ExecutionRecord{
		ID:            "exec-1",
		EventID:       "ev-1",
		TriggerID:     "trig-1",
		TriggerType:   models.TriggerSchedule,
		Status:        models.ExecutionRunning,
		AttemptNumber: 1,
		CreatedAt:     time.Now().UTC(),
	}))

	resp := api.request(t, http.MethodPost, "/events/ev-1/run", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Overlap-tolerant events take the run anyway.
	overlapping := activeEvent("ev-2")
	overlapping.AllowOverlap = true
	api.saveEvent(t, overlapping)

	require.NoError(t, api.persistence.Executions().CreateRecord(context.Background(), &models.ExecutionRecord{
		ID:            "exec-2",
		EventID:       "ev-2",
		TriggerID:     "trig-2",
		TriggerType:   models.TriggerSchedule,
		Status:        models.ExecutionRunning,
		AttemptNumber: 1,
		CreatedAt:     time.Now().UTC(),
	}))

	resp = api.request(t, http.MethodPost, "/events/ev-2/run", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestGetEventRecords(t *testing.T) {
	api := newTestAPI(t)
	api.saveEvent(t, activeEvent("ev-1"))

	now := time.Now().UTC()
	require.NoError(t, api.persistence.Executions().CreateRecord(context.Background(), &models.ExecutionRecord{
		ID:            "exec-1",
		EventID:       "ev-1",
		TriggerID:     "trig-1",
		TriggerType:   models.TriggerManual,
		Status:        models.ExecutionSuccess,
		AttemptNumber: 1,
		CreatedAt:     now,
	}))

	resp := api.request(t, http.MethodGet, "/events/ev-1/records", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Records    []models.ExecutionRecord `json:"records"`
		TotalCount int                      `json:"total_count"`
	}

	decodeJSON(t, resp, &body)
	assert.Equal(t, 1, body.TotalCount)
	require.Len(t, body.Records, 1)
	assert.Equal(t, "exec-1", body.Records[0].ID)

	resp = api.request(t, http.MethodGet, "/events/ev-1/records?limit=bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookPublishesTriggerWithPayload(t *testing.T) {
	api := newTestAPI(t)
	api.saveEvent(t, activeEvent("hook"))

	resp := api.request(t, http.MethodPost, "/webhooks/hook", `{"ref": "main", "commits": 3}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	triggered, ok := api.bus.last().(events.EventTriggered)
	require.True(t, ok)
	assert.Equal(t, models.TriggerWebhook, triggered.Trigger.Type)
	assert.Equal(t, "main", triggered.Trigger.Payload["ref"])

	// The engine enriches the payload with request metadata.
	meta, ok := triggered.Trigger.Payload["webhook"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.MethodPost, meta["method"])
}

func TestWebhookSchemaValidation(t *testing.T) {
	api := newTestAPI(t)

	definition := activeEvent("hook")
	definition.PayloadSchema = map[string]any{
		"type":     "object",
		"required": []any{"ref"},
		"properties": map[string]any{
			"ref": map[string]any{"type": "string"},
		},
	}
	api.saveEvent(t, definition)

	resp := api.request(t, http.MethodPost, "/webhooks/hook", `{"branch": "main"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, api.bus.published)

	resp = api.request(t, http.MethodPost, "/webhooks/hook", `{"ref": "main"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestWebhookRejectsInactiveEvent(t *testing.T) {
	api := newTestAPI(t)

	paused := activeEvent("hook")
	paused.Status = models.EventStatusPaused
	api.saveEvent(t, paused)

	resp := api.request(t, http.MethodPost, "/webhooks/hook", `{}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWebhookRejectsNonObjectBody(t *testing.T) {
	api := newTestAPI(t)
	api.saveEvent(t, activeEvent("hook"))

	resp := api.request(t, http.MethodPost, "/webhooks/hook", `[1, 2, 3]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateAndRunWorkflow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.request(t, http.MethodPost, "/workflows/", `{
		"name": "deploy pipeline",
		"status": "active",
		"nodes": [
			{"id": "a", "event_id": "ev-a"},
			{"id": "b", "event_id": "ev-b"}
		],
		"connections": [
			{"id": "e1", "source_id": "a", "target_id": "b", "kind": "sequential"}
		]
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Workflow

	decodeJSON(t, resp, &created)
	require.NotEmpty(t, created.ID)

	resp = api.request(t, http.MethodPost, "/workflows/"+created.ID+"/run", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	requested, ok := api.bus.last().(events.WorkflowRunRequested)
	require.True(t, ok)
	assert.Equal(t, created.ID, requested.WorkflowID)
}

func TestCreateWorkflowRejectsSelfEdge(t *testing.T) {
	api := newTestAPI(t)

	resp := api.request(t, http.MethodPost, "/workflows/", `{
		"name": "loop",
		"nodes": [{"id": "a", "event_id": "ev-a"}],
		"connections": [{"id": "e1", "source_id": "a", "target_id": "a"}]
	}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunWorkflowRejectsDraft(t *testing.T) {
	api := newTestAPI(t)

	require.NoError(t, api.persistence.Workflows().SaveWorkflow(context.Background(), &models.Workflow{
		ID:     "wf-1",
		Name:   "draft pipeline",
		Status: models.WorkflowStatusDraft,
		Nodes:  []*models.WorkflowNode{{ID: "a", EventID: "ev-a"}},
	}))

	resp := api.request(t, http.MethodPost, "/workflows/wf-1/run", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(t)

	resp := api.request(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

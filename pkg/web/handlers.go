// Package web provides the HTTP handlers of the engine's REST surface:
// event definition management, execution record queries, manual and
// webhook trigger front doors, and workflow runs.
package web

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/oru-io/conduct/pkg/eventbus"
	"github.com/oru-io/conduct/pkg/events"
	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/persistence"
)

const defaultRecordsLimit = 50

type APIHandlers struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	p persistence.Persistence,
	eventBus eventbus.EventPublisher,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		eventBus:    eventBus,
		validate:    validate,
		logger:      logger.With("module", "web"),
	}
}

func (h *APIHandlers) GetEvents(c fiber.Ctx) error {
	definitions, err := h.persistence.Events().Events(c.Context())
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"events":      definitions,
		"total_count": len(definitions),
	})
}

func (h *APIHandlers) GetEvent(c fiber.Ctx) error {
	definition, err := h.persistence.Events().EventByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateEvent(c fiber.Ctx) error {
	var definition models.EventDefinition

	if err := c.Bind().JSON(&definition); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if definition.ID == "" {
		definition.ID = uuid.New().String()
	}

	if definition.Status == "" {
		definition.Status = models.EventStatusDraft
	}

	now := time.Now().UTC()
	definition.CreatedAt = now
	definition.UpdatedAt = now

	if err := h.validate.Struct(&definition); err != nil {
		return badRequest(c, err.Error())
	}

	if err := definition.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.Events().SaveEvent(c.Context(), &definition); err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) UpdateEvent(c fiber.Ctx) error {
	existing, err := h.persistence.Events().EventByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	updated := *existing
	if err := c.Bind().JSON(&updated); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	// Identity and run-state fields are not client-writable.
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.LastRunAt = existing.LastRunAt
	updated.ExecutionCount = existing.ExecutionCount
	updated.UpdatedAt = time.Now().UTC()

	if err := h.validate.Struct(&updated); err != nil {
		return badRequest(c, err.Error())
	}

	if err := updated.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.Events().SaveEvent(c.Context(), &updated); err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteEvent(c fiber.Ctx) error {
	if err := h.persistence.Events().DeleteEvent(c.Context(), c.Params("id")); err != nil {
		return handleStoreError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// RunEvent is the manual trigger front door. Paused events accept manual
// runs; draft, archived, and errored events do not.
func (h *APIHandlers) RunEvent(c fiber.Ctx) error {
	definition, err := h.persistence.Events().EventByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	if definition.Status != models.EventStatusActive && definition.Status != models.EventStatusPaused {
		return conflict(c, "event is not runnable in status "+string(definition.Status))
	}

	// Surface an overlap to the operator instead of silently queueing the
	// run behind the worker's execution lease.
	if !definition.AllowOverlap {
		active, err := h.persistence.Executions().HasActiveRecord(c.Context(), definition.ID)
		if err != nil {
			return handleStoreError(c, err)
		}

		if active {
			return conflict(c, "event already has an execution in flight")
		}
	}

	trigger := models.DueTrigger{
		TriggerID: uuid.New().String(),
		EventID:   definition.ID,
		Type:      models.TriggerManual,
		Attempt:   1,
		FiredAt:   time.Now().UTC(),
	}

	event := events.EventTriggered{
		BaseEvent: events.NewBaseEvent(events.EventTriggeredType),
		Trigger:   trigger,
	}

	if err := h.eventBus.Publish(c.Context(), trigger.EventID, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"trigger_id": trigger.TriggerID,
		"event_id":   trigger.EventID,
	})
}

func (h *APIHandlers) GetEventRecords(c fiber.Ctx) error {
	limit := defaultRecordsLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "invalid limit")
		}

		limit = parsed
	}

	records, err := h.persistence.Executions().RecordsByEvent(c.Context(), c.Params("id"), limit)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"records":     records,
		"total_count": len(records),
	})
}

func (h *APIHandlers) GetRecord(c fiber.Ctx) error {
	record, err := h.persistence.Executions().RecordByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.Workflows().Workflows(c.Context())
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.persistence.Workflows().WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var workflow models.Workflow

	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := h.validate.Struct(&workflow); err != nil {
		return badRequest(c, err.Error())
	}

	if err := workflow.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.Workflows().SaveWorkflow(c.Context(), &workflow); err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

// RunWorkflow asks the orchestrator, over the bus, to start one run.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	workflow, err := h.persistence.Workflows().WorkflowByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	if workflow.Status != models.WorkflowStatusActive {
		return conflict(c, "workflow is not runnable in status "+string(workflow.Status))
	}

	event := events.WorkflowRunRequested{
		BaseEvent:  events.NewBaseEvent(events.WorkflowRunRequestedType),
		WorkflowID: workflow.ID,
	}

	if err := h.eventBus.Publish(c.Context(), workflow.ID, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"workflow_id": workflow.ID,
	})
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	limit := defaultRecordsLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "invalid limit")
		}

		limit = parsed
	}

	executions, err := h.persistence.WorkflowExecutions().WorkflowExecutionsByWorkflow(c.Context(), c.Params("id"), limit)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflow_executions": executions,
		"total_count":         len(executions),
	})
}

func (h *APIHandlers) GetWorkflowExecution(c fiber.Ctx) error {
	execution, err := h.persistence.WorkflowExecutions().WorkflowExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}

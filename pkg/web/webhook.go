package web

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/oru-io/conduct/pkg/events"
	"github.com/oru-io/conduct/pkg/models"
)

const maxWebhookBodySize = 1024 * 1024

// TriggerWebhook is the inbound webhook front door: it validates the
// payload against the event's schema (when one is configured) and
// publishes the trigger. The response carries the trigger id; callers poll
// the records endpoint for the outcome.
func (h *APIHandlers) TriggerWebhook(c fiber.Ctx) error {
	definition, err := h.persistence.Events().EventByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	if definition.Status != models.EventStatusActive {
		return conflict(c, "event is not active")
	}

	body := c.Body()
	if len(body) > maxWebhookBodySize {
		return badRequest(c, "request body too large")
	}

	payload := map[string]any{}

	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return badRequest(c, "request body must be a JSON object")
		}
	}

	if definition.PayloadSchema != nil {
		if err := validatePayload(payload, definition.PayloadSchema); err != nil {
			return unprocessable(c, err.Error())
		}
	}

	payload["webhook"] = map[string]any{
		"method":      c.Method(),
		"path":        c.Path(),
		"remote_addr": c.IP(),
		"received_at": time.Now().UTC().Format(time.RFC3339),
	}

	trigger := models.DueTrigger{
		TriggerID: uuid.New().String(),
		EventID:   definition.ID,
		Type:      models.TriggerWebhook,
		Attempt:   1,
		Payload:   payload,
		FiredAt:   time.Now().UTC(),
	}

	event := events.EventTriggered{
		BaseEvent: events.NewBaseEvent(events.EventTriggeredType),
		Trigger:   trigger,
	}

	if err := h.eventBus.Publish(c.Context(), trigger.EventID, event); err != nil {
		return internalError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Webhook trigger accepted",
		"event_id", definition.ID,
		"trigger_id", trigger.TriggerID)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"trigger_id": trigger.TriggerID,
		"event_id":   trigger.EventID,
	})
}

// validatePayload checks the payload against a JSON schema.
func validatePayload(payload, schema map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	payloadLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, payloadLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("payload rejected: %s", strings.Join(details, "; "))
	}

	return nil
}

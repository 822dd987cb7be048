// Package actions evaluates conditional actions against finalized
// execution records: run_event chains follow-up events through the normal
// dispatch path, send_message renders and delivers notifications.
package actions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oru-io/conduct/pkg/eventbus"
	"github.com/oru-io/conduct/pkg/events"
	"github.com/oru-io/conduct/pkg/metrics"
	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/notifier"
	"github.com/oru-io/conduct/pkg/persistence"
	"github.com/oru-io/conduct/pkg/template"
)

// DefaultMaxChainDepth bounds run_event chains. Indirect cycles (A fires
// B, B fires A) are legal configurations; the depth guard stops them from
// running forever.
const DefaultMaxChainDepth = 10

// processedRetention bounds the dedupe set: a record id is remembered long
// enough to absorb bus redelivery, then forgotten.
const processedRetention = 10 * time.Minute

type Engine struct {
	persistence   persistence.Persistence
	eventBus      eventbus.EventPublisher
	notifiers     *notifier.Registry
	collector     *metrics.Collector
	logger        *slog.Logger
	maxChainDepth int

	mu        sync.Mutex
	processed map[string]time.Time
}

func NewEngine(
	p persistence.Persistence,
	eventBus eventbus.EventPublisher,
	notifiers *notifier.Registry,
	collector *metrics.Collector,
	maxChainDepth int,
	logger *slog.Logger,
) *Engine {
	if maxChainDepth <= 0 {
		maxChainDepth = DefaultMaxChainDepth
	}

	return &Engine{
		persistence:   p,
		eventBus:      eventBus,
		notifiers:     notifiers,
		collector:     collector,
		logger:        logger.With("module", "actions"),
		maxChainDepth: maxChainDepth,
		processed:     make(map[string]time.Time),
	}
}

// OnFinalized evaluates the owning event's actions against one finalized
// record, in declaration order. Safe to call more than once per record;
// only the first call evaluates.
func (e *Engine) OnFinalized(ctx context.Context, record *models.ExecutionRecord) {
	if !e.markProcessed(record.ID) {
		return
	}

	logger := e.logger.With("event_id", record.EventID, "execution_id", record.ID)

	definition, err := e.persistence.Events().EventByID(ctx, record.EventID)
	if err != nil {
		logger.Error("Failed to load event for action evaluation", "error", err)

		return
	}

	if len(definition.ConditionalActions) == 0 {
		return
	}

	if !record.FinalForTrigger(definition.Retries) {
		logger.Debug("Skipping action evaluation, attempt will be retried",
			"attempt", record.AttemptNumber)

		return
	}

	for _, action := range definition.ConditionalActions {
		if !action.FiresOn(record.Status, record.Condition) {
			continue
		}

		// One action's failure never blocks the rest of the list.
		switch action.Kind {
		case models.ActionKindRunEvent:
			e.runEvent(ctx, action, definition, record, logger)
		case models.ActionKindSendMessage:
			e.sendMessage(ctx, action, definition, record, logger)
		default:
			logger.Warn("Skipping action of unknown kind", "kind", action.Kind, "action_id", action.ID)
		}
	}
}

func (e *Engine) runEvent(ctx context.Context, action *models.ConditionalAction, definition *models.EventDefinition, record *models.ExecutionRecord, logger *slog.Logger) {
	depth := record.ChainDepth + 1
	if depth > e.maxChainDepth {
		logger.Warn("Suppressing chained run, max chain depth reached",
			"action_id", action.ID,
			"target_event_id", action.TargetEventID,
			"chain_depth", depth)

		if e.collector != nil {
			e.collector.ChainDepthSuppressed()
		}

		return
	}

	trigger := models.DueTrigger{
		TriggerID:  uuid.New().String(),
		EventID:    action.TargetEventID,
		Type:       models.TriggerChained,
		Attempt:    1,
		ChainDepth: depth,
		Payload: map[string]any{
			"source_event_id":     definition.ID,
			"source_execution_id": record.ID,
			"source_status":       string(record.Status),
		},
		FiredAt: time.Now().UTC(),
	}

	event := events.EventTriggered{
		BaseEvent: events.NewBaseEvent(events.EventTriggeredType),
		Trigger:   trigger,
	}

	if err := e.eventBus.Publish(ctx, trigger.EventID, event); err != nil {
		logger.Error("Failed to publish chained trigger",
			"action_id", action.ID,
			"target_event_id", action.TargetEventID,
			"error", err)

		return
	}

	logger.Info("Chained event triggered",
		"action_id", action.ID,
		"target_event_id", action.TargetEventID,
		"chain_depth", depth)
}

func (e *Engine) sendMessage(ctx context.Context, action *models.ConditionalAction, definition *models.EventDefinition, record *models.ExecutionRecord, logger *slog.Logger) {
	body, err := template.RenderRecord(action.Template, definition, record)
	if err != nil {
		logger.Error("Failed to render notification template",
			"action_id", action.ID,
			"error", err)

		return
	}

	msg := notifier.Message{
		Channel:   action.Channel,
		Recipient: action.Recipient,
		Subject:   definition.Name + ": " + string(record.Status),
		Body:      body,
	}

	// Delivery is best effort: a bounced notification is logged, never
	// retried, and never affects the execution record.
	if err := e.notifiers.Send(ctx, msg); err != nil {
		logger.Error("Failed to deliver notification",
			"action_id", action.ID,
			"channel", action.Channel,
			"error", err)

		return
	}

	logger.Info("Notification delivered", "action_id", action.ID, "channel", action.Channel)
}

func (e *Engine) markProcessed(recordID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()

	for id, seen := range e.processed {
		if now.Sub(seen) > processedRetention {
			delete(e.processed, id)
		}
	}

	if _, seen := e.processed[recordID]; seen {
		return false
	}

	e.processed[recordID] = now

	return true
}

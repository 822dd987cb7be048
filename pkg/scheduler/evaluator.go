// Package scheduler implements the trigger evaluator: a fixed-interval
// poller that decides which active events are due and publishes a due
// trigger for each. Poll-based on purpose: every pass is independent, so
// the evaluator survives restarts without recovering timer state, and a
// pass is safe to run concurrently with in-flight jobs from earlier
// passes. The dispatcher's compare-and-swap claim is what prevents double
// firing, not the evaluator.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oru-io/conduct/pkg/eventbus"
	"github.com/oru-io/conduct/pkg/events"
	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/persistence"
)

const DefaultPollInterval = 30 * time.Second

type Evaluator struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	interval    time.Duration

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex
}

func NewEvaluator(
	p persistence.Persistence,
	eventBus eventbus.EventPublisher,
	logger *slog.Logger,
	interval time.Duration,
) *Evaluator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Evaluator{
		persistence: p,
		eventBus:    eventBus,
		logger:      logger.With("module", "scheduler"),
		interval:    interval,
	}
}

// Start begins the poll loop. It returns immediately; evaluation passes run
// in a background goroutine until Stop or context cancellation.
func (e *Evaluator) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	e.logger.Info("Starting trigger evaluator", "interval", e.interval)

	e.ticker = time.NewTicker(e.interval)
	e.done = make(chan bool)
	e.started = true

	go e.poll(ctx)

	return nil
}

// Stop gracefully shuts down the poll loop.
func (e *Evaluator) Stop(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}

	e.logger.Info("Stopping trigger evaluator")

	if e.ticker != nil {
		e.ticker.Stop()
	}

	select {
	case e.done <- true:
	default:
	}

	e.started = false

	return nil
}

func (e *Evaluator) poll(ctx context.Context) {
	for {
		select {
		case <-e.done:
			return
		case <-ctx.Done():
			return
		case <-e.ticker.C:
			e.evaluatePass(ctx, time.Now().UTC())
		}
	}
}

// evaluatePass runs one evaluation over all active events. Errors inside
// one event's pipeline never abort processing of the others.
func (e *Evaluator) evaluatePass(ctx context.Context, now time.Time) {
	definitions, err := e.persistence.Events().ActiveEvents(ctx)
	if err != nil {
		e.logger.Error("Failed to load active events", "error", err)

		return
	}

	due := e.EvaluateDue(ctx, definitions, now)

	if len(due) > 0 {
		e.logger.Info("Processing due events", "count", len(due))
	}

	for _, trigger := range due {
		event := events.EventTriggered{
			BaseEvent: events.NewBaseEvent(events.EventTriggeredType),
			Trigger:   trigger,
		}

		if err := e.eventBus.Publish(ctx, trigger.EventID, event); err != nil {
			e.logger.Error("Failed to publish due trigger",
				"event_id", trigger.EventID,
				"error", err)
		}
	}
}

// EvaluateDue computes the due triggers for one pass. A malformed cron
// expression is surfaced as a configuration error against the event, which
// excludes it from evaluation until corrected; it never crashes the pass
// for other events.
func (e *Evaluator) EvaluateDue(ctx context.Context, definitions []*models.EventDefinition, now time.Time) []models.DueTrigger {
	due := make([]models.DueTrigger, 0)

	for _, definition := range definitions {
		isDue, err := definition.IsDue(now)
		if err != nil {
			if errors.Is(err, models.ErrInvalidSchedule) {
				e.logger.Warn("Excluding event with malformed schedule",
					"event_id", definition.ID,
					"schedule", definition.CustomSchedule,
					"error", err)

				if markErr := e.persistence.Events().MarkEventError(ctx, definition.ID, err.Error()); markErr != nil {
					e.logger.Error("Failed to mark event error", "event_id", definition.ID, "error", markErr)
				}
			} else {
				e.logger.Error("Failed to evaluate event", "event_id", definition.ID, "error", err)
			}

			continue
		}

		if !isDue {
			continue
		}

		due = append(due, models.DueTrigger{
			TriggerID:     uuid.New().String(),
			EventID:       definition.ID,
			Type:          models.TriggerSchedule,
			Attempt:       1,
			PrevLastRunAt: definition.LastRunAt,
			FiredAt:       now,
		})
	}

	return due
}

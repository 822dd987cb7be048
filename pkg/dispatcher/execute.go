package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oru-io/conduct/pkg/events"
	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/otelhelper"
)

var ErrExecutionNotFound = errors.New("no in-flight execution with that id")

// execute runs one attempt end to end: acquire concurrency slots, mark the
// record running, invoke the runner under a watchdog, finalize, then decide
// on a retry. It runs on its own goroutine per attempt.
func (d *Dispatcher) execute(ctx context.Context, definition *models.EventDefinition, job *models.Job, record *models.ExecutionRecord) {
	logger := d.logger.With(
		"event_id", definition.ID,
		"execution_id", record.ID,
		"attempt", job.Trigger.Attempt,
	)

	tracer := otel.Tracer("conduct-worker")

	ctx, span := otelhelper.StartSpan(ctx, tracer, "dispatcher.execute",
		attribute.String(otelhelper.EventIDKey, definition.ID),
		attribute.String(otelhelper.ExecutionIDKey, record.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(job.Trigger.Type)),
		attribute.Int(otelhelper.AttemptKey, job.Trigger.Attempt),
		attribute.String(otelhelper.ScriptTypeKey, string(job.ScriptType)),
	)
	defer span.End()

	defer d.releaseLease(ctx, definition)

	d.global <- struct{}{}
	defer func() { <-d.global }()

	if job.Target != nil {
		slot := d.hostSlot(job.Target.Host)
		slot <- struct{}{}

		defer func() { <-slot }()
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	d.registerCancel(record.ID, cancel)
	defer d.unregisterCancel(record.ID)

	if err := d.manager.MarkRunning(ctx, record); err != nil {
		logger.Error("Failed to mark execution running", "error", err)
		cancel(nil)

		d.finalize(ctx, definition, job, record, &models.ExecutionOutcome{
			Status: models.ExecutionFailure,
			Reason: fmt.Sprintf("failed to start execution: %s", err),
		}, true)

		return
	}

	if d.collector != nil {
		d.collector.ExecutionStarted()
	}

	started := time.Now()

	outcome := d.runWithWatchdog(runCtx, cancel, job, logger)

	if d.collector != nil {
		d.collector.ExecutionFinished(outcome.Status, job.ScriptType, time.Since(started).Seconds())
	}

	if outcome.Status != models.ExecutionSuccess {
		reason := outcome.Reason
		if reason == "" {
			reason = string(outcome.Status)
		}

		otelhelper.SetError(span, errors.New(reason),
			attribute.String(otelhelper.ExecutionIDKey, record.ID))
	}

	// An operator cancel ends the occurrence; only watchdog and runner
	// failures stay eligible for retry.
	cause := context.Cause(runCtx)
	allowRetry := cause == nil || errors.Is(cause, errWatchdogFired)

	d.finalize(ctx, definition, job, record, outcome, allowRetry)
}

// runWithWatchdog invokes the runner and races it against an out-of-band
// timer. The timer wins even when the runner is stuck in uninterruptible
// I/O: the attempt finalizes as timeout immediately and the runner's late
// result is discarded.
func (d *Dispatcher) runWithWatchdog(ctx context.Context, cancel context.CancelCauseFunc, job *models.Job, logger *slog.Logger) *models.ExecutionOutcome {
	backend, err := d.runners.For(job)
	if err != nil {
		return &models.ExecutionOutcome{
			Status: models.ExecutionFailure,
			Reason: err.Error(),
		}
	}

	type result struct {
		outcome *models.ExecutionOutcome
		err     error
	}

	done := make(chan result, 1)

	go func() {
		outcome, runErr := backend.Run(ctx, job)
		done <- result{outcome: outcome, err: runErr}
	}()

	watchdog := time.NewTimer(job.Timeout)
	defer watchdog.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return &models.ExecutionOutcome{
				Status: models.ExecutionFailure,
				Reason: res.err.Error(),
			}
		}

		return res.outcome

	case <-watchdog.C:
		logger.Warn("Watchdog fired, abandoning runner", "timeout", job.Timeout)
		cancel(errWatchdogFired)

		return &models.ExecutionOutcome{
			Status:   models.ExecutionTimeout,
			ExitCode: -1,
			Reason:   fmt.Sprintf("execution exceeded timeout of %s", job.Timeout),
		}

	case <-ctx.Done():
		return &models.ExecutionOutcome{
			Status: models.ExecutionFailure,
			Reason: cancelReason(ctx),
		}
	}
}

func (d *Dispatcher) finalize(ctx context.Context, definition *models.EventDefinition, job *models.Job, record *models.ExecutionRecord, outcome *models.ExecutionOutcome, allowRetry bool) {
	logger := d.logger.With("event_id", definition.ID, "execution_id", record.ID)

	// The retry decision is stamped on the record so downstream consumers
	// of the finalized record know whether another attempt follows.
	willRetry := allowRetry && outcome.Status.Retryable() && job.Trigger.Attempt <= definition.Retries
	record.FinalAttempt = !willRetry

	if err := d.manager.Finalize(ctx, record, outcome); err != nil {
		logger.Error("Failed to finalize execution", "error", err)
	}

	logger.Info("Execution finished",
		"status", outcome.Status,
		"attempt", job.Trigger.Attempt,
		"exit_code", outcome.ExitCode)

	if willRetry {
		d.retry(ctx, definition, job)
	}
}

// retry republishes the trigger for the next attempt. Retries share the
// trigger occurrence: same TriggerID, same chain depth, attempt
// incremented.
func (d *Dispatcher) retry(ctx context.Context, definition *models.EventDefinition, job *models.Job) {
	next := job.Trigger
	next.Attempt++
	next.FiredAt = time.Now().UTC()

	d.logger.Info("Scheduling retry attempt",
		"event_id", definition.ID,
		"trigger_id", next.TriggerID,
		"attempt", next.Attempt)

	event := events.EventTriggered{
		BaseEvent: events.NewBaseEvent(events.EventTriggeredType),
		Trigger:   next,
	}

	if err := d.eventBus.Publish(ctx, definition.ID, event); err != nil {
		d.logger.Error("Failed to publish retry trigger",
			"event_id", definition.ID,
			"error", err)
	}
}

// Cancel aborts an in-flight execution. The attempt finalizes as failure
// with the given reason and is never retried by the cancel itself.
func (d *Dispatcher) Cancel(executionID, reason string) error {
	d.cancelMu.Lock()
	cancel, ok := d.cancels[executionID]
	d.cancelMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	if reason == "" {
		reason = "cancelled by operator"
	}

	cancel(errors.New(reason))

	return nil
}

func (d *Dispatcher) registerCancel(executionID string, cancel context.CancelCauseFunc) {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()

	d.cancels[executionID] = cancel
}

func (d *Dispatcher) unregisterCancel(executionID string) {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()

	delete(d.cancels, executionID)
}

func (d *Dispatcher) hostSlot(host string) chan struct{} {
	d.hostMu.Lock()
	defer d.hostMu.Unlock()

	slot, ok := d.hostSlots[host]
	if !ok {
		slot = make(chan struct{}, d.config.MaxPerHost)
		d.hostSlots[host] = slot
	}

	return slot
}

func cancelReason(ctx context.Context) string {
	cause := context.Cause(ctx)
	if cause != nil && !errors.Is(cause, context.Canceled) {
		return "execution cancelled: " + cause.Error()
	}

	return "execution cancelled"
}

// Package dispatcher converts due triggers into jobs, hands them to
// runners, and owns the attempt lifecycle: single-active-execution
// enforcement, payload resolution, the out-of-band watchdog, retries, and
// cancellation. The correctness-critical invariant lives here: at most one
// in-flight attempt per (event, trigger occurrence) unless the event
// explicitly allows overlap.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oru-io/conduct/pkg/dispatcher/lock"
	"github.com/oru-io/conduct/pkg/eventbus"
	"github.com/oru-io/conduct/pkg/events"
	"github.com/oru-io/conduct/pkg/execution"
	"github.com/oru-io/conduct/pkg/metrics"
	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/persistence"
	"github.com/oru-io/conduct/pkg/runner"
)

var errWatchdogFired = errors.New("watchdog deadline exceeded")

const DefaultMaxConcurrent = 32
const DefaultMaxPerHost = 4
const DefaultDeferDelay = 5 * time.Second

type Config struct {
	WorkerID      string
	MaxConcurrent int
	MaxPerHost    int
	DeferDelay    time.Duration

	// UserEnvironment holds user-level key/value pairs merged under every
	// event's own environment.
	UserEnvironment map[string]string
}

func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = uuid.New().String()
	}

	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}

	if c.MaxPerHost <= 0 {
		c.MaxPerHost = DefaultMaxPerHost
	}

	if c.DeferDelay <= 0 {
		c.DeferDelay = DefaultDeferDelay
	}

	return c
}

type Dispatcher struct {
	config      Config
	persistence persistence.Persistence
	manager     *execution.Manager
	runners     *runner.Registry
	eventBus    eventbus.EventBus
	lease       lock.ExecutionLock
	collector   *metrics.Collector
	logger      *slog.Logger

	global chan struct{}

	hostMu    sync.Mutex
	hostSlots map[string]chan struct{}

	cancelMu sync.Mutex
	cancels  map[string]context.CancelCauseFunc

	probeTarget func(addr string) bool
}

func NewDispatcher(
	config Config,
	p persistence.Persistence,
	manager *execution.Manager,
	runners *runner.Registry,
	eventBus eventbus.EventBus,
	lease lock.ExecutionLock,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Dispatcher {
	config = config.withDefaults()

	return &Dispatcher{
		config:      config,
		persistence: p,
		manager:     manager,
		runners:     runners,
		eventBus:    eventBus,
		lease:       lease,
		collector:   collector,
		logger:      logger.With("module", "dispatcher", "worker_id", config.WorkerID),
		global:      make(chan struct{}, config.MaxConcurrent),
		hostSlots:   make(map[string]chan struct{}),
		cancels:     make(map[string]context.CancelCauseFunc),
	}
}

// Start registers the trigger handler on the bus. The caller subscribes
// the bus afterwards.
func (d *Dispatcher) Start(_ context.Context) error {
	return d.eventBus.Handle(events.EventTriggeredType, d.handleEventTriggered)
}

func (d *Dispatcher) handleEventTriggered(ctx context.Context, event any) error {
	triggered, ok := event.(*events.EventTriggered)
	if !ok {
		d.logger.ErrorContext(ctx, "Invalid event type for EventTriggered")

		return nil
	}

	if err := triggered.Validate(); err != nil {
		d.logger.ErrorContext(ctx, "Dropping invalid trigger", "error", err)

		return nil
	}

	return d.Dispatch(ctx, triggered.Trigger)
}

// Dispatch runs one due trigger through the pipeline. Errors from one
// event's pipeline are contained here; they never propagate into the
// processing of other triggers.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger models.DueTrigger) error {
	logger := d.logger.With(
		"event_id", trigger.EventID,
		"trigger_id", trigger.TriggerID,
		"trigger_type", trigger.Type,
		"attempt", trigger.Attempt,
	)

	definition, err := d.persistence.Events().EventByID(ctx, trigger.EventID)
	if err != nil {
		if errors.Is(err, persistence.ErrEventNotFound) {
			logger.Warn("Dropping trigger for unknown event")

			return nil
		}

		return err
	}

	if !d.runnable(definition, trigger) {
		logger.Info("Skipping trigger for non-runnable event", "status", definition.Status)

		return nil
	}

	// Single-active-execution policy: the lease serializes attempts per
	// event across dispatcher instances. Deferred triggers are re-queued,
	// not dropped.
	if !definition.AllowOverlap {
		leaseTTL := definition.Timeout() + time.Minute

		acquired, err := d.lease.Acquire(ctx, definition.ID, d.config.WorkerID, leaseTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire execution lease: %w", err)
		}

		if !acquired {
			logger.Info("Event already executing, deferring trigger")
			d.deferTrigger(trigger)

			return nil
		}
	}

	// CAS claim on the event's run state: for scheduled occurrences two
	// evaluator ticks or two dispatcher instances can race here, and
	// exactly one wins.
	claimed, err := d.claimRunState(ctx, definition, trigger)
	if err != nil {
		d.releaseLease(ctx, definition)

		return err
	}

	if !claimed {
		logger.Info("Trigger occurrence already claimed, dropping duplicate")
		d.releaseLease(ctx, definition)

		return nil
	}

	job, record, err := d.buildJob(ctx, definition, trigger)
	if err != nil {
		d.releaseLease(ctx, definition)

		if errors.Is(err, persistence.ErrServerNotFound) || errors.Is(err, models.ErrRemoteNeedsServers) {
			// Configuration error: surfaced against the event, not retried.
			logger.Error("Skipping execution due to configuration error", "error", err)

			if markErr := d.persistence.Events().MarkEventError(ctx, definition.ID, err.Error()); markErr != nil {
				logger.Error("Failed to mark event error", "error", markErr)
			}

			return nil
		}

		return err
	}

	logger.Info("Dispatching job", "execution_id", record.ID)

	go d.execute(context.WithoutCancel(ctx), definition, job, record)

	return nil
}

func (d *Dispatcher) runnable(definition *models.EventDefinition, trigger models.DueTrigger) bool {
	switch definition.Status {
	case models.EventStatusActive:
		return true
	case models.EventStatusPaused:
		// Paused events still honor explicit manual runs.
		return trigger.Type == models.TriggerManual
	default:
		return false
	}
}

func (d *Dispatcher) claimRunState(ctx context.Context, definition *models.EventDefinition, trigger models.DueTrigger) (bool, error) {
	now := time.Now().UTC()

	if trigger.Type == models.TriggerSchedule && trigger.Attempt == 1 {
		return d.persistence.Events().ClaimRun(ctx, definition.ID, trigger.PrevLastRunAt, now)
	}

	// Non-scheduled occurrences are unique by construction; the run-state
	// update is best effort and a lost race is not a duplicate fire.
	if _, err := d.persistence.Events().ClaimRun(ctx, definition.ID, definition.LastRunAt, now); err != nil {
		return false, err
	}

	return true, nil
}

// buildJob resolves the full execution payload and creates the pending
// record. Record creation is tied to job construction so no job exists
// without an observable record.
func (d *Dispatcher) buildJob(ctx context.Context, definition *models.EventDefinition, trigger models.DueTrigger) (*models.Job, *models.ExecutionRecord, error) {
	var target *models.Server

	if definition.RunLocation == models.RunLocationRemote && definition.ScriptType != models.ScriptTypeHTTPRequest {
		resolved, err := d.resolveTarget(ctx, definition)
		if err != nil {
			return nil, nil, err
		}

		target = resolved
	}

	record, err := d.manager.CreateRecord(ctx, trigger)
	if err != nil {
		return nil, nil, err
	}

	environment := make(map[string]string, len(d.config.UserEnvironment)+len(definition.Environment))

	for key, value := range d.config.UserEnvironment {
		environment[key] = value
	}

	for key, value := range definition.Environment {
		environment[key] = value
	}

	job := &models.Job{
		ExecutionID: record.ID,
		EventID:     definition.ID,
		Trigger:     trigger,
		ScriptType:  definition.ScriptType,
		Script:      definition.Script,
		HTTP:        definition.HTTPRequest,
		Environment: environment,
		Target:      target,
		Timeout:     definition.Timeout(),
	}

	return job, record, nil
}

// resolveTarget selects one server: the first reporting healthy, else the
// first in the list.
func (d *Dispatcher) resolveTarget(ctx context.Context, definition *models.EventDefinition) (*models.Server, error) {
	if len(definition.ServerIDs) == 0 {
		return nil, models.ErrRemoteNeedsServers
	}

	var first *models.Server

	for _, serverID := range definition.ServerIDs {
		server, err := d.persistence.Servers().ServerByID(ctx, serverID)
		if err != nil {
			if errors.Is(err, persistence.ErrServerNotFound) {
				continue
			}

			return nil, err
		}

		if first == nil {
			first = server
		}

		if d.probeHealthy(server) {
			return server, nil
		}
	}

	if first == nil {
		return nil, persistence.ErrServerNotFound
	}

	return first, nil
}

func (d *Dispatcher) probeHealthy(server *models.Server) bool {
	if d.probeTarget != nil {
		return d.probeTarget(server.Addr())
	}

	conn, err := net.DialTimeout("tcp", server.Addr(), 3*time.Second)
	if err != nil {
		return false
	}

	conn.Close()

	return true
}

// deferTrigger re-queues a trigger for a later dispatch pass.
func (d *Dispatcher) deferTrigger(trigger models.DueTrigger) {
	if d.collector != nil {
		d.collector.DispatchDeferred()
	}

	time.AfterFunc(d.config.DeferDelay, func() {
		event := events.EventTriggered{
			BaseEvent: events.NewBaseEvent(events.EventTriggeredType),
			Trigger:   trigger,
		}

		if err := d.eventBus.Publish(context.Background(), trigger.EventID, event); err != nil {
			d.logger.Error("Failed to re-queue deferred trigger",
				"event_id", trigger.EventID,
				"error", err)
		}
	})
}

func (d *Dispatcher) releaseLease(ctx context.Context, definition *models.EventDefinition) {
	if definition.AllowOverlap {
		return
	}

	if err := d.lease.Release(ctx, definition.ID, d.config.WorkerID); err != nil {
		d.logger.Error("Failed to release execution lease", "event_id", definition.ID, "error", err)
	}
}

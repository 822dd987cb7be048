// Package execution implements the execution record manager: transactional
// creation and finalization of execution records, bounded output capture,
// and the single fan-out point consumed by the conditional action engine
// and the workflow orchestrator.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oru-io/conduct/pkg/eventbus"
	"github.com/oru-io/conduct/pkg/events"
	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/persistence"
)

// DefaultMaxOutputBytes bounds each stored output stream.
const DefaultMaxOutputBytes = 64 * 1024

const truncationMarker = "\n... [output truncated]"

// Listener receives each finalized record exactly once from this manager.
// Listener processing must be idempotent: the bus delivers at-least-once
// across processes, so a listener may still see a record id twice there.
type Listener interface {
	OnFinalized(ctx context.Context, record *models.ExecutionRecord)
}

type Manager struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	maxOutput   int

	mu        sync.Mutex
	listeners []Listener
}

func NewManager(p persistence.Persistence, eventBus eventbus.EventPublisher, logger *slog.Logger) *Manager {
	return &Manager{
		persistence: p,
		eventBus:    eventBus,
		logger:      logger.With("module", "execution"),
		maxOutput:   DefaultMaxOutputBytes,
	}
}

// Subscribe registers a finalization listener. Notification order between
// listeners is unspecified.
func (m *Manager) Subscribe(listener Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, listener)
}

// CreateRecord creates the pending record for one dispatch attempt. The
// dispatcher calls this atomically with job construction so no job ever
// exists without an observable record.
func (m *Manager) CreateRecord(ctx context.Context, trigger models.DueTrigger) (*models.ExecutionRecord, error) {
	record := &models.ExecutionRecord{
		ID:                  uuid.New().String(),
		EventID:             trigger.EventID,
		TriggerID:           trigger.TriggerID,
		TriggerType:         trigger.Type,
		Status:              models.ExecutionPending,
		AttemptNumber:       trigger.Attempt,
		ChainDepth:          trigger.ChainDepth,
		WorkflowID:          trigger.WorkflowID,
		WorkflowExecutionID: trigger.WorkflowExecutionID,
		NodeID:              trigger.NodeID,
		SequenceOrder:       trigger.SequenceOrder,
		CreatedAt:           time.Now().UTC(),
	}

	if err := m.persistence.Executions().CreateRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	return record, nil
}

// MarkRunning transitions a pending record to running.
func (m *Manager) MarkRunning(ctx context.Context, record *models.ExecutionRecord) error {
	if !record.Status.CanTransition(models.ExecutionRunning) {
		return fmt.Errorf("cannot start execution %s from status %s", record.ID, record.Status)
	}

	now := time.Now().UTC()
	record.Status = models.ExecutionRunning
	record.StartTime = &now

	if err := m.persistence.Executions().UpdateRecord(ctx, record); err != nil {
		return err
	}

	started := events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedType),
		ExecutionID: record.ID,
		EventID:     record.EventID,
		Attempt:     record.AttemptNumber,
	}

	if err := m.eventBus.Publish(ctx, record.EventID, started); err != nil {
		m.logger.Warn("Failed to publish execution started", "execution_id", record.ID, "error", err)
	}

	return nil
}

// Finalize moves a record to its terminal state, captures the outcome with
// bounded output, and fans the finalized record out. Finalizing an already
// terminal record is a no-op: the store rejects the transition, so fan-out
// happens at most once per record id.
func (m *Manager) Finalize(ctx context.Context, record *models.ExecutionRecord, outcome *models.ExecutionOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("outcome status %s is not terminal", outcome.Status)
	}

	if !record.Status.CanTransition(outcome.Status) {
		return fmt.Errorf("cannot finalize execution %s: %s -> %s", record.ID, record.Status, outcome.Status)
	}

	now := time.Now().UTC()

	record.Status = outcome.Status
	record.EndTime = &now
	record.Output = m.truncate(outcome.Stdout)
	record.ErrorOutput = m.truncate(outcome.Stderr)
	record.StructuredOutput = outcome.StructuredOutput
	record.Condition = outcome.Condition
	record.Reason = outcome.Reason

	exitCode := outcome.ExitCode
	record.ExitCode = &exitCode

	if record.StartTime != nil {
		record.DurationMs = now.Sub(*record.StartTime).Milliseconds()
	}

	record.SetupDurationMs = outcome.Phases.Setup.Milliseconds()
	record.ExecutionDurationMs = outcome.Phases.Execution.Milliseconds()
	record.CleanupDurationMs = outcome.Phases.Cleanup.Milliseconds()

	if err := m.persistence.Executions().UpdateRecord(ctx, record); err != nil {
		if errors.Is(err, persistence.ErrTerminalRecord) {
			m.logger.Warn("Ignoring duplicate finalization", "execution_id", record.ID)

			return nil
		}

		return fmt.Errorf("failed to finalize execution record: %w", err)
	}

	finished := events.ExecutionFinished{
		BaseEvent: events.NewBaseEvent(events.ExecutionFinishedType),
		Record:    *record,
	}

	if err := m.eventBus.Publish(ctx, record.EventID, finished); err != nil {
		m.logger.Warn("Failed to publish execution finished", "execution_id", record.ID, "error", err)
	}

	m.notify(ctx, record)

	return nil
}

func (m *Manager) notify(ctx context.Context, record *models.ExecutionRecord) {
	m.mu.Lock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener.OnFinalized(ctx, record)
	}
}

// truncate bounds stored output. Oversized output is cut with an explicit
// marker, never silently dropped.
func (m *Manager) truncate(output string) string {
	if len(output) <= m.maxOutput {
		return output
	}

	return output[:m.maxOutput] + truncationMarker
}

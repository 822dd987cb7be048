// Package workfloworch runs workflow DAGs: it releases root nodes, listens
// for finalized node executions, and releases successors once all their
// predecessors have succeeded.
package workfloworch

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

// retentionWindow keeps finished runs in memory long enough for late
// duplicate finalization events to be recognized and ignored.
const retentionWindow = 10 * time.Minute

var (
	ErrWorkflowNotRunnable = errors.New("workflow is not active")
	ErrRunFinished         = errors.New("workflow execution already finished")
)

// run is the in-memory state of one workflow execution.
type run struct {
	workflow  *models.Workflow
	execution *models.WorkflowExecution

	// released tracks nodes whose trigger has been published, so a node
	// never dispatches twice.
	released map[string]bool

	finishedAt time.Time
}

type Orchestrator struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	logger      *slog.Logger

	mu   sync.Mutex
	runs map[string]*run
}

func NewOrchestrator(p persistence.Persistence, eventBus eventbus.EventBus, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		persistence: p,
		eventBus:    eventBus,
		logger:      logger.With("module", "workfloworch"),
		runs:        make(map[string]*run),
	}
}

// Start registers the run-request handler on the bus. The caller
// subscribes the bus afterwards.
func (o *Orchestrator) Start(_ context.Context) error {
	return o.eventBus.Handle(events.WorkflowRunRequestedType, o.handleRunRequested)
}

func (o *Orchestrator) handleRunRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.WorkflowRunRequested)
	if !ok {
		o.logger.ErrorContext(ctx, "Invalid event type for WorkflowRunRequested")

		return nil
	}

	if err := requested.Validate(); err != nil {
		o.logger.ErrorContext(ctx, "Dropping invalid workflow run request", "error", err)

		return nil
	}

	if _, err := o.StartWorkflow(ctx, requested.WorkflowID); err != nil {
		o.logger.ErrorContext(ctx, "Failed to start workflow",
			"workflow_id", requested.WorkflowID,
			"error", err)
	}

	return nil
}

// StartWorkflow begins one run of the workflow DAG: it persists the run,
// then releases every root node.
func (o *Orchestrator) StartWorkflow(ctx context.Context, workflowID string) (*models.WorkflowExecution, error) {
	workflow, err := o.persistence.Workflows().WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusActive {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotRunnable, workflowID)
	}

	if err := workflow.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow %s: %w", workflowID, err)
	}

	execution := &models.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: workflow.ID,
		Status:     models.WorkflowExecutionRunning,
		StartedAt:  time.Now().UTC(),
	}

	order := topologicalOrder(workflow)

	for _, node := range workflow.Nodes {
		execution.Nodes = append(execution.Nodes, &models.WorkflowExecutionEvent{
			NodeID:        node.ID,
			EventID:       node.EventID,
			Status:        models.ExecutionPending,
			SequenceOrder: order[node.ID],
		})
	}

	if err := o.persistence.WorkflowExecutions().SaveWorkflowExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to persist workflow execution: %w", err)
	}

	r := &run{
		workflow:  workflow,
		execution: execution,
		released:  make(map[string]bool),
	}

	o.mu.Lock()
	o.runs[execution.ID] = r
	o.mu.Unlock()

	o.publish(ctx, execution.ID, events.WorkflowExecutionStarted{
		BaseEvent:           events.NewBaseEvent(events.WorkflowExecutionStartedType),
		WorkflowID:          workflow.ID,
		WorkflowExecutionID: execution.ID,
	})

	o.logger.Info("Workflow execution started",
		"workflow_id", workflow.ID,
		"workflow_execution_id", execution.ID,
		"nodes", len(workflow.Nodes))

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, node := range workflow.Roots() {
		o.releaseNode(ctx, r, node.ID)
	}

	o.settle(ctx, r)

	return execution, nil
}

// OnFinalized advances the run a finalized workflow-owned record belongs
// to. Records without workflow tags are ignored.
func (o *Orchestrator) OnFinalized(ctx context.Context, record *models.ExecutionRecord) {
	if record.WorkflowExecutionID == "" {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.evictStale()

	r, ok := o.runs[record.WorkflowExecutionID]
	if !ok {
		// Not started by this instance; rebuild from the persisted state.
		loaded, err := o.loadRun(ctx, record.WorkflowExecutionID)
		if err != nil {
			o.logger.Warn("Ignoring record for unknown workflow execution",
				"workflow_execution_id", record.WorkflowExecutionID,
				"execution_id", record.ID,
				"error", err)

			return
		}

		r = loaded
		o.runs[record.WorkflowExecutionID] = r
	}

	if !r.finishedAt.IsZero() {
		return
	}

	node := r.execution.NodeState(record.NodeID)
	if node == nil || node.Status.IsTerminal() {
		return
	}

	// A failed attempt with retries remaining is not the node's outcome:
	// the retry carries the same workflow tags and lands here again.
	if record.Status.Retryable() && !o.finalForNode(ctx, record) {
		return
	}

	node.ExecutionID = record.ID
	node.Status = record.Status

	o.publish(ctx, r.execution.ID, events.WorkflowNodeStatus{
		BaseEvent:           events.NewBaseEvent(events.WorkflowNodeStatusType),
		WorkflowExecutionID: r.execution.ID,
		NodeID:              node.NodeID,
		Status:              node.Status,
		SequenceOrder:       node.SequenceOrder,
	})

	if record.Status == models.ExecutionSuccess {
		for _, successor := range r.workflow.Successors(record.NodeID) {
			if o.predecessorsSucceeded(r, successor) {
				o.releaseNode(ctx, r, successor)
			}
		}
	}

	o.settle(ctx, r)

	if err := o.persistence.WorkflowExecutions().SaveWorkflowExecution(ctx, r.execution); err != nil {
		o.logger.Error("Failed to persist workflow execution state",
			"workflow_execution_id", r.execution.ID,
			"error", err)
	}
}

// releaseNode publishes the trigger for one node. Caller holds o.mu.
func (o *Orchestrator) releaseNode(ctx context.Context, r *run, nodeID string) {
	if r.released[nodeID] {
		return
	}

	r.released[nodeID] = true

	state := r.execution.NodeState(nodeID)
	if state == nil {
		return
	}

	trigger := models.DueTrigger{
		TriggerID:           uuid.New().String(),
		EventID:             state.EventID,
		Type:                models.TriggerWorkflow,
		Attempt:             1,
		WorkflowID:          r.workflow.ID,
		WorkflowExecutionID: r.execution.ID,
		NodeID:              nodeID,
		SequenceOrder:       state.SequenceOrder,
		FiredAt:             time.Now().UTC(),
	}

	o.publish(ctx, trigger.EventID, events.EventTriggered{
		BaseEvent: events.NewBaseEvent(events.EventTriggeredType),
		Trigger:   trigger,
	})

	o.logger.Info("Workflow node released",
		"workflow_execution_id", r.execution.ID,
		"node_id", nodeID,
		"event_id", state.EventID)
}

// finalForNode reports whether a failure-adjacent record ends its trigger
// occurrence. A missing definition counts as final: the dispatcher could
// not load it to retry either.
func (o *Orchestrator) finalForNode(ctx context.Context, record *models.ExecutionRecord) bool {
	if record.FinalAttempt {
		return true
	}

	definition, err := o.persistence.Events().EventByID(ctx, record.EventID)
	if err != nil {
		return true
	}

	return record.FinalForTrigger(definition.Retries)
}

func (o *Orchestrator) predecessorsSucceeded(r *run, nodeID string) bool {
	for _, pred := range r.workflow.Predecessors(nodeID) {
		state := r.execution.NodeState(pred)
		if state == nil || state.Status != models.ExecutionSuccess {
			return false
		}
	}

	return true
}

// settle finishes the run when no node can make further progress: success
// when every node succeeded, failure once a node failed and nothing
// releasable remains. Successors are released the moment their last
// predecessor succeeds, so an unreleased node here is permanently blocked
// behind a failure. Caller holds o.mu.
func (o *Orchestrator) settle(ctx context.Context, r *run) {
	if !r.finishedAt.IsZero() {
		return
	}

	allSucceeded := true

	for _, node := range r.execution.Nodes {
		if r.released[node.NodeID] && !node.Status.IsTerminal() {
			// Still in flight.
			return
		}

		if node.Status != models.ExecutionSuccess {
			allSucceeded = false
		}
	}

	status := models.WorkflowExecutionSuccess
	if !allSucceeded {
		status = models.WorkflowExecutionFailure
	}

	now := time.Now().UTC()
	r.execution.Status = status
	r.execution.FinishedAt = &now
	r.finishedAt = now

	o.publish(ctx, r.execution.ID, events.WorkflowExecutionFinished{
		BaseEvent:           events.NewBaseEvent(events.WorkflowExecutionFinishedType),
		WorkflowID:          r.workflow.ID,
		WorkflowExecutionID: r.execution.ID,
		Status:              status,
		Duration:            now.Sub(r.execution.StartedAt),
	})

	if err := o.persistence.WorkflowExecutions().SaveWorkflowExecution(ctx, r.execution); err != nil {
		o.logger.Error("Failed to persist finished workflow execution",
			"workflow_execution_id", r.execution.ID,
			"error", err)
	}

	o.logger.Info("Workflow execution finished",
		"workflow_execution_id", r.execution.ID,
		"status", status)
}

// loadRun reconstructs in-memory run state from the persisted workflow
// execution. Releases themselves are not persisted, but the frontier is
// deterministic: a node was released exactly when an execution was ever
// dispatched for it, or when every predecessor has succeeded (roots have
// none and are released at start).
func (o *Orchestrator) loadRun(ctx context.Context, workflowExecutionID string) (*run, error) {
	execution, err := o.persistence.WorkflowExecutions().WorkflowExecutionByID(ctx, workflowExecutionID)
	if err != nil {
		return nil, err
	}

	workflow, err := o.persistence.Workflows().WorkflowByID(ctx, execution.WorkflowID)
	if err != nil {
		return nil, err
	}

	r := &run{
		workflow:  workflow,
		execution: execution,
		released:  make(map[string]bool),
	}

	for _, state := range execution.Nodes {
		if state.ExecutionID != "" || state.Status != models.ExecutionPending {
			r.released[state.NodeID] = true

			continue
		}

		if o.predecessorsSucceeded(r, state.NodeID) {
			r.released[state.NodeID] = true
		}
	}

	if execution.FinishedAt != nil {
		r.finishedAt = *execution.FinishedAt
	}

	return r, nil
}

func (o *Orchestrator) evictStale() {
	now := time.Now()

	for id, r := range o.runs {
		if !r.finishedAt.IsZero() && now.Sub(r.finishedAt) > retentionWindow {
			delete(o.runs, id)
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := o.eventBus.Publish(ctx, key, event); err != nil {
		o.logger.Error("Failed to publish workflow event", "error", err)
	}
}

// topologicalOrder assigns each node its longest-path depth from a root,
// used as the sequence order reported on the observer feed.
func topologicalOrder(w *models.Workflow) map[string]int {
	order := make(map[string]int, len(w.Nodes))

	var visit func(nodeID string, seen map[string]bool) int

	visit = func(nodeID string, seen map[string]bool) int {
		if depth, ok := order[nodeID]; ok {
			return depth
		}

		if seen[nodeID] {
			return 0
		}

		seen[nodeID] = true

		depth := 0

		for _, pred := range w.Predecessors(nodeID) {
			if d := visit(pred, seen) + 1; d > depth {
				depth = d
			}
		}

		order[nodeID] = depth

		return depth
	}

	for _, node := range w.Nodes {
		visit(node.ID, make(map[string]bool))
	}

	return order
}

package workfloworch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oru-io/conduct/pkg/eventbus"
	"github.com/oru-io/conduct/pkg/events"
	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/persistence"
	"github.com/oru-io/conduct/pkg/persistence/file"
)

type capturingBus struct {
	mu        sync.Mutex
	published []eventbus.Event
}

func (b *capturingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, event)

	return nil
}

func (b *capturingBus) Handle(_ events.EventType, _ eventbus.EventHandler) error { return nil }
func (b *capturingBus) Subscribe(_ context.Context) error                        { return nil }
func (b *capturingBus) Close() error                                             { return nil }
func (b *capturingBus) GenerateID() string                                       { return "test-id" }

// releasedNodes returns the node ids of every node trigger published so far.
func (b *capturingBus) releasedNodes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var nodes []string

	for _, event := range b.published {
		if triggered, ok := event.(events.EventTriggered); ok {
			nodes = append(nodes, triggered.Trigger.NodeID)
		}
	}

	return nodes
}

func (b *capturingBus) finishedEvents() []events.WorkflowExecutionFinished {
	b.mu.Lock()
	defer b.mu.Unlock()

	var finished []events.WorkflowExecutionFinished

	for _, event := range b.published {
		if f, ok := event.(events.WorkflowExecutionFinished); ok {
			finished = append(finished, f)
		}
	}

	return finished
}

// diamond builds a → {b, c} → d.
func diamond() *models.Workflow {
	return &models.Workflow{
		ID:     "wf-1",
		Name:   "deploy pipeline",
		Status: models.WorkflowStatusActive,
		Nodes: []*models.WorkflowNode{
			{ID: "a", EventID: "ev-a"},
			{ID: "b", EventID: "ev-b"},
			{ID: "c", EventID: "ev-c"},
			{ID: "d", EventID: "ev-d"},
		},
		Connections: []*models.Connection{
			{ID: "e1", SourceID: "a", TargetID: "b", Kind: models.ConnectionSequential},
			{ID: "e2", SourceID: "a", TargetID: "c", Kind: models.ConnectionSequential},
			{ID: "e3", SourceID: "b", TargetID: "d", Kind: models.ConnectionSequential},
			{ID: "e4", SourceID: "c", TargetID: "d", Kind: models.ConnectionSequential},
		},
	}
}

func newTestOrchestrator(t *testing.T, workflow *models.Workflow) (*Orchestrator, *capturingBus, persistence.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	p := file.NewPersistence(t.TempDir())

	require.NoError(t, p.Workflows().SaveWorkflow(context.Background(), workflow))

	bus := &capturingBus{}

	return NewOrchestrator(p, bus, logger), bus, p
}

// nodeFinalized reports the terminal record the dispatcher would hand the
// orchestrator for one workflow node, stamped as the occurrence's last
// attempt.
func nodeFinalized(o *Orchestrator, execution *models.WorkflowExecution, nodeID string, status models.ExecutionStatus) {
	nodeAttemptFinalized(o, execution, nodeID, status, 1, true)
}

func nodeAttemptFinalized(o *Orchestrator, execution *models.WorkflowExecution, nodeID string, status models.ExecutionStatus, attempt int, final bool) {
	o.OnFinalized(context.Background(), &models.ExecutionRecord{
		ID:                  "exec-" + nodeID + "-" + strconv.Itoa(attempt),
		EventID:             "ev-" + nodeID,
		TriggerType:         models.TriggerWorkflow,
		Status:              status,
		AttemptNumber:       attempt,
		FinalAttempt:        final,
		WorkflowID:          execution.WorkflowID,
		WorkflowExecutionID: execution.ID,
		NodeID:              nodeID,
	})
}

func TestStartWorkflowReleasesOnlyRoots(t *testing.T) {
	o, bus, _ := newTestOrchestrator(t, diamond())

	execution, err := o.StartWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowExecutionRunning, execution.Status)
	assert.Len(t, execution.Nodes, 4)
	assert.Equal(t, []string{"a"}, bus.releasedNodes())
}

func TestStartWorkflowRejectsInactive(t *testing.T) {
	workflow := diamond()
	workflow.Status = models.WorkflowStatusDraft

	o, bus, _ := newTestOrchestrator(t, workflow)

	_, err := o.StartWorkflow(context.Background(), "wf-1")
	assert.True(t, errors.Is(err, ErrWorkflowNotRunnable))
	assert.Empty(t, bus.releasedNodes())
}

func TestDiamondReleasesJoinAfterAllPredecessors(t *testing.T) {
	o, bus, _ := newTestOrchestrator(t, diamond())

	execution, err := o.StartWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	nodeFinalized(o, execution, "a", models.ExecutionSuccess)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, bus.releasedNodes())

	// d waits for both b and c.
	nodeFinalized(o, execution, "b", models.ExecutionSuccess)
	assert.NotContains(t, bus.releasedNodes(), "d")

	nodeFinalized(o, execution, "c", models.ExecutionSuccess)
	assert.Contains(t, bus.releasedNodes(), "d")

	nodeFinalized(o, execution, "d", models.ExecutionSuccess)

	finished := bus.finishedEvents()
	require.Len(t, finished, 1)
	assert.Equal(t, models.WorkflowExecutionSuccess, finished[0].Status)
}

func TestFailedNodeBlocksSuccessorsAndFailsRun(t *testing.T) {
	o, bus, p := newTestOrchestrator(t, diamond())

	execution, err := o.StartWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	nodeFinalized(o, execution, "a", models.ExecutionSuccess)
	nodeFinalized(o, execution, "b", models.ExecutionFailure)

	// c is still in flight: the run is not settled yet.
	assert.Empty(t, bus.finishedEvents())

	nodeFinalized(o, execution, "c", models.ExecutionSuccess)

	// d can never run: b failed.
	assert.NotContains(t, bus.releasedNodes(), "d")

	finished := bus.finishedEvents()
	require.Len(t, finished, 1)
	assert.Equal(t, models.WorkflowExecutionFailure, finished[0].Status)

	stored, err := p.WorkflowExecutions().WorkflowExecutionByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowExecutionFailure, stored.Status)
	require.NotNil(t, stored.FinishedAt)
}

func TestRootFailureFailsRunImmediately(t *testing.T) {
	o, bus, _ := newTestOrchestrator(t, diamond())

	execution, err := o.StartWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	nodeFinalized(o, execution, "a", models.ExecutionFailure)

	assert.Equal(t, []string{"a"}, bus.releasedNodes())

	finished := bus.finishedEvents()
	require.Len(t, finished, 1)
	assert.Equal(t, models.WorkflowExecutionFailure, finished[0].Status)
}

func TestDuplicateNodeFinalizationIgnored(t *testing.T) {
	o, bus, _ := newTestOrchestrator(t, diamond())

	execution, err := o.StartWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	nodeFinalized(o, execution, "a", models.ExecutionSuccess)
	released := len(bus.releasedNodes())

	// A late duplicate for a terminal node changes nothing.
	nodeFinalized(o, execution, "a", models.ExecutionFailure)
	assert.Len(t, bus.releasedNodes(), released)
	assert.Empty(t, bus.finishedEvents())
}

func TestRecordsWithoutWorkflowTagsIgnored(t *testing.T) {
	o, bus, _ := newTestOrchestrator(t, diamond())

	o.OnFinalized(context.Background(), &models.ExecutionRecord{
		ID:      "exec-1",
		EventID: "ev-a",
		Status:  models.ExecutionSuccess,
	})

	assert.Empty(t, bus.releasedNodes())
}

func TestOnFinalizedRebuildsRunFromStore(t *testing.T) {
	o, bus, p := newTestOrchestrator(t, diamond())

	execution, err := o.StartWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	nodeFinalized(o, execution, "a", models.ExecutionSuccess)

	// A second instance sharing the store picks up where this one left off.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	other := NewOrchestrator(p, bus, logger)

	nodeFinalized(other, execution, "b", models.ExecutionSuccess)
	nodeFinalized(other, execution, "c", models.ExecutionSuccess)

	assert.Contains(t, bus.releasedNodes(), "d")

	nodeFinalized(other, execution, "d", models.ExecutionSuccess)

	finished := bus.finishedEvents()
	require.Len(t, finished, 1)
	assert.Equal(t, models.WorkflowExecutionSuccess, finished[0].Status)
}

func TestNodeFailureWithRetriesRemainingKeepsRunOpen(t *testing.T) {
	o, bus, p := newTestOrchestrator(t, diamond())

	// Node a's event retries once, so its first failure is not the
	// node's outcome.
	require.NoError(t, p.Events().SaveEvent(context.Background(), &models.EventDefinition{
		ID:      "ev-a",
		Name:    "node a",
		Retries: 1,
		Status:  models.EventStatusActive,
	}))

	execution, err := o.StartWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	nodeAttemptFinalized(o, execution, "a", models.ExecutionFailure, 1, false)

	assert.Empty(t, bus.finishedEvents())
	assert.Equal(t, []string{"a"}, bus.releasedNodes())

	nodeAttemptFinalized(o, execution, "a", models.ExecutionSuccess, 2, true)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, bus.releasedNodes())
	assert.Empty(t, bus.finishedEvents())
}

func TestNodeFailureAfterRetryBudgetSettlesRun(t *testing.T) {
	o, bus, p := newTestOrchestrator(t, diamond())

	require.NoError(t, p.Events().SaveEvent(context.Background(), &models.EventDefinition{
		ID:      "ev-a",
		Name:    "node a",
		Retries: 1,
		Status:  models.EventStatusActive,
	}))

	execution, err := o.StartWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	nodeAttemptFinalized(o, execution, "a", models.ExecutionFailure, 1, false)
	assert.Empty(t, bus.finishedEvents())

	nodeAttemptFinalized(o, execution, "a", models.ExecutionFailure, 2, true)

	assert.NotContains(t, bus.releasedNodes(), "b")

	finished := bus.finishedEvents()
	require.Len(t, finished, 1)
	assert.Equal(t, models.WorkflowExecutionFailure, finished[0].Status)
}

func TestTopologicalOrderLongestPathDepth(t *testing.T) {
	order := topologicalOrder(diamond())

	assert.Equal(t, 0, order["a"])
	assert.Equal(t, 1, order["b"])
	assert.Equal(t, 1, order["c"])
	assert.Equal(t, 2, order["d"])
}

func TestSettleDoesNotFinishWhileNodesInFlight(t *testing.T) {
	o, bus, _ := newTestOrchestrator(t, diamond())

	execution, err := o.StartWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	nodeFinalized(o, execution, "a", models.ExecutionSuccess)
	nodeFinalized(o, execution, "b", models.ExecutionSuccess)

	// c has not reported yet.
	assert.Empty(t, bus.finishedEvents())
	assert.Equal(t, models.WorkflowExecutionRunning, execution.Status)
}

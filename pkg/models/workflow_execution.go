package models

import "time"

// WorkflowExecutionStatus aggregates per-node statuses of one workflow run.
type WorkflowExecutionStatus string

const (
	WorkflowExecutionRunning WorkflowExecutionStatus = "running"
	WorkflowExecutionSuccess WorkflowExecutionStatus = "success"
	WorkflowExecutionFailure WorkflowExecutionStatus = "failure"
)

// WorkflowExecutionEvent links one DAG node to the execution record that
// ran it, with its topological position.
type WorkflowExecutionEvent struct {
	NodeID        string          `json:"node_id"`
	EventID       string          `json:"event_id"`
	ExecutionID   string          `json:"execution_id,omitempty"`
	Status        ExecutionStatus `json:"status"`
	SequenceOrder int             `json:"sequence_order"`
}

// WorkflowExecution is one run of a workflow DAG. Status is derived:
// running while any node is pending or running, success only when every
// reachable node succeeded, failure as soon as no additional success is
// possible.
type WorkflowExecution struct {
	ID         string                    `json:"id"`
	WorkflowID string                    `json:"workflow_id"`
	Status     WorkflowExecutionStatus   `json:"status"`
	Nodes      []*WorkflowExecutionEvent `json:"nodes"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt *time.Time                `json:"finished_at,omitempty"`
}

// NodeState returns the tracked state for a node id, or nil.
func (we *WorkflowExecution) NodeState(nodeID string) *WorkflowExecutionEvent {
	for _, n := range we.Nodes {
		if n.NodeID == nodeID {
			return n
		}
	}

	return nil
}

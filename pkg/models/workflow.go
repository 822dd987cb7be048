package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// ConnectionKind is the semantics of a DAG edge. Only sequential edges are
// load-bearing today.
type ConnectionKind string

const ConnectionSequential ConnectionKind = "sequential"

// WorkflowNode wraps one event definition reference with a stable node id.
type WorkflowNode struct {
	ID      string `json:"id"       validate:"required"`
	EventID string `json:"event_id" validate:"required"`
	Name    string `json:"name,omitempty"`
}

// Connection is a directed edge between two nodes.
type Connection struct {
	ID       string         `json:"id"`
	SourceID string         `json:"source_id" validate:"required"`
	TargetID string         `json:"target_id" validate:"required"`
	Kind     ConnectionKind `json:"kind,omitempty"`
}

// Workflow is a DAG of event nodes. The graph need not be a tree; multiple
// roots are allowed and run concurrently, as do fully disconnected nodes.
type Workflow struct {
	ID          string         `json:"id"     validate:"required"`
	Name        string         `json:"name"   validate:"required,min=1"`
	Description string         `json:"description,omitempty"`
	Status      WorkflowStatus `json:"status" validate:"required"`
	Nodes       []*WorkflowNode `json:"nodes"`
	Connections []*Connection   `json:"connections"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

var (
	ErrUnknownNode      = errors.New("connection references unknown node")
	ErrDuplicateNodeID  = errors.New("duplicate node id")
	ErrSelfEdge         = errors.New("connection from a node to itself")
)

// Validate checks edge integrity. Cycle freedom beyond self-edges is not
// proven here; the orchestrator simply never releases a node whose
// predecessors cannot all succeed.
func (w *Workflow) Validate() error {
	nodes := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if nodes[n.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, n.ID)
		}

		nodes[n.ID] = true
	}

	for _, c := range w.Connections {
		if c.SourceID == c.TargetID {
			return fmt.Errorf("%w: %s", ErrSelfEdge, c.SourceID)
		}

		if !nodes[c.SourceID] {
			return fmt.Errorf("%w: %s", ErrUnknownNode, c.SourceID)
		}

		if !nodes[c.TargetID] {
			return fmt.Errorf("%w: %s", ErrUnknownNode, c.TargetID)
		}
	}

	return nil
}

// Roots returns the nodes with no incoming edge. Disconnected nodes are
// roots by definition.
func (w *Workflow) Roots() []*WorkflowNode {
	hasIncoming := make(map[string]bool)
	for _, c := range w.Connections {
		hasIncoming[c.TargetID] = true
	}

	roots := make([]*WorkflowNode, 0, len(w.Nodes))

	for _, n := range w.Nodes {
		if !hasIncoming[n.ID] {
			roots = append(roots, n)
		}
	}

	return roots
}

// Predecessors returns the source node ids of every edge into nodeID.
func (w *Workflow) Predecessors(nodeID string) []string {
	var sources []string

	for _, c := range w.Connections {
		if c.TargetID == nodeID {
			sources = append(sources, c.SourceID)
		}
	}

	return sources
}

// Successors returns the target node ids of every edge out of nodeID.
func (w *Workflow) Successors(nodeID string) []string {
	var targets []string

	for _, c := range w.Connections {
		if c.SourceID == nodeID {
			targets = append(targets, c.TargetID)
		}
	}

	return targets
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(nodeID string) *WorkflowNode {
	for _, n := range w.Nodes {
		if n.ID == nodeID {
			return n
		}
	}

	return nil
}

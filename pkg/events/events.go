// Package events defines the event types exchanged on the bus between the
// scheduler, the dispatcher workers, and observers.
package events

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/oru-io/conduct/pkg/models"
)

type EventType string

// Bus topics.
const (
	TriggerTopic   = "conduct.triggers"   // due triggers awaiting dispatch
	ExecutionTopic = "conduct.executions" // finalized records and workflow progress (observer feed)
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	EventTriggeredType       EventType = "event.triggered"
	WorkflowRunRequestedType EventType = "workflow.run.requested"

	ExecutionStartedType  EventType = "execution.started"
	ExecutionFinishedType EventType = "execution.finished"

	WorkflowExecutionStartedType  EventType = "workflow.execution.started"
	WorkflowExecutionFinishedType EventType = "workflow.execution.finished"
	WorkflowNodeStatusType        EventType = "workflow.node.status"
)

var ErrInvalidEventData = errors.New("invalid event data")

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// EventTriggered carries one due trigger into the dispatch pipeline. Every
// trigger source (scheduler, API front door, action engine, orchestrator)
// produces this same event, so chained runs take the exact same path as
// scheduled ones.
type EventTriggered struct {
	BaseEvent

	Trigger models.DueTrigger `json:"trigger"`
}

func (e EventTriggered) GetType() EventType {
	return EventTriggeredType
}

func (e EventTriggered) Validate() error {
	if e.Trigger.EventID == "" || e.Trigger.TriggerID == "" {
		return ErrInvalidEventData
	}

	if e.Trigger.Attempt < 1 {
		return ErrInvalidEventData
	}

	return nil
}

// WorkflowRunRequested asks the orchestrator to start one run of a
// workflow DAG.
type WorkflowRunRequested struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
}

func (e WorkflowRunRequested) GetType() EventType {
	return WorkflowRunRequestedType
}

func (e WorkflowRunRequested) Validate() error {
	if e.WorkflowID == "" {
		return ErrInvalidEventData
	}

	return nil
}

// ExecutionStarted is published when a runner picks up a job.
type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EventID     string `json:"event_id"`
	Attempt     int    `json:"attempt"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedType
}

// ExecutionFinished carries one finalized execution record. It is the
// push-based observer feed: dashboards subscribe to it instead of polling.
type ExecutionFinished struct {
	BaseEvent

	Record models.ExecutionRecord `json:"record"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedType
}

type WorkflowExecutionStarted struct {
	BaseEvent

	WorkflowID          string `json:"workflow_id"`
	WorkflowExecutionID string `json:"workflow_execution_id"`
}

func (e WorkflowExecutionStarted) GetType() EventType {
	return WorkflowExecutionStartedType
}

type WorkflowExecutionFinished struct {
	BaseEvent

	WorkflowID          string                         `json:"workflow_id"`
	WorkflowExecutionID string                         `json:"workflow_execution_id"`
	Status              models.WorkflowExecutionStatus `json:"status"`
	Duration            time.Duration                  `json:"duration"`
}

func (e WorkflowExecutionFinished) GetType() EventType {
	return WorkflowExecutionFinishedType
}

// WorkflowNodeStatus reports one DAG node transition on the observer feed.
type WorkflowNodeStatus struct {
	BaseEvent

	WorkflowExecutionID string                 `json:"workflow_execution_id"`
	NodeID              string                 `json:"node_id"`
	Status              models.ExecutionStatus `json:"status"`
	SequenceOrder       int                    `json:"sequence_order"`
}

func (e WorkflowNodeStatus) GetType() EventType {
	return WorkflowNodeStatusType
}

package models

import (
	"time"
)

// ExecutionStatus is the lifecycle state of one execution attempt.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailure ExecutionStatus = "failure"
	ExecutionTimeout ExecutionStatus = "timeout"
	ExecutionPartial ExecutionStatus = "partial"
)

// IsTerminal reports whether the status ends the record's lifecycle.
// Terminal records are immutable; a retry is a fresh record.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailure, ExecutionTimeout, ExecutionPartial:
		return true
	}

	return false
}

// Retryable reports whether a terminal status allows another attempt.
// Partial is treated as failure for retry purposes.
func (s ExecutionStatus) Retryable() bool {
	switch s {
	case ExecutionFailure, ExecutionTimeout, ExecutionPartial:
		return true
	}

	return false
}

// CanTransition validates the pending → running → terminal state machine.
func (s ExecutionStatus) CanTransition(to ExecutionStatus) bool {
	switch s {
	case ExecutionPending:
		return to == ExecutionRunning || to.IsTerminal()
	case ExecutionRunning:
		return to.IsTerminal()
	default:
		return false
	}
}

// TriggerType records what caused an execution attempt.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerWebhook  TriggerType = "webhook"
	TriggerWorkflow TriggerType = "workflow"

	// TriggerChained marks run_event follow-ups. Unlike manual triggers,
	// chained ones do not run paused events.
	TriggerChained TriggerType = "chained"
)

// ExecutionRecord is the immutable log of one execution attempt. Retries of
// the same logical trigger occurrence share TriggerID and increment
// AttemptNumber.
type ExecutionRecord struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`

	// TriggerID links retries of one logical trigger occurrence.
	TriggerID   string      `json:"trigger_id"`
	TriggerType TriggerType `json:"trigger_type"`

	Status ExecutionStatus `json:"status"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	DurationMs          int64 `json:"duration_ms,omitempty"`
	SetupDurationMs     int64 `json:"setup_duration_ms,omitempty"`
	ExecutionDurationMs int64 `json:"execution_duration_ms,omitempty"`
	CleanupDurationMs   int64 `json:"cleanup_duration_ms,omitempty"`

	Output      string `json:"output,omitempty"`
	ErrorOutput string `json:"error_output,omitempty"`
	ExitCode    *int   `json:"exit_code,omitempty"`

	// StructuredOutput is whatever the script wrote to its output file.
	StructuredOutput map[string]any `json:"structured_output,omitempty"`

	// Condition is the runtime boolean the script set, if any. Absent
	// means false for on_condition routing.
	Condition *bool `json:"condition,omitempty"`

	AttemptNumber int `json:"attempt_number"`

	// FinalAttempt is stamped by the dispatcher at finalization when no
	// retry will follow: the status is not retryable, the retry budget is
	// spent, or an operator cancelled the occurrence.
	FinalAttempt bool `json:"final_attempt,omitempty"`

	// ChainDepth is inherited from the trigger that started this attempt;
	// run_event actions fired off this record run at ChainDepth+1.
	ChainDepth int `json:"chain_depth,omitempty"`

	// Reason carries a human-readable cause for failure-adjacent terminal
	// states (cancellation, transport error, watchdog).
	Reason string `json:"reason,omitempty"`

	// Workflow tags, set only for workflow-owned executions.
	WorkflowID          string `json:"workflow_id,omitempty"`
	WorkflowExecutionID string `json:"workflow_execution_id,omitempty"`
	NodeID              string `json:"node_id,omitempty"`
	SequenceOrder       int    `json:"sequence_order,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// FinalForTrigger reports whether this record is the last word on its
// trigger occurrence given the owning event's retry budget. Consumers that
// react only once per occurrence (conditional actions, workflow node
// settlement) gate on it.
func (r *ExecutionRecord) FinalForTrigger(retries int) bool {
	if r.FinalAttempt || !r.Status.Retryable() {
		return true
	}

	return r.AttemptNumber > retries
}

// PhaseDurations breaks one attempt into user-visible phases. Setup covers
// session establishment and script materialization, execution the script
// itself, cleanup the teardown.
type PhaseDurations struct {
	Setup     time.Duration `json:"setup"`
	Execution time.Duration `json:"execution"`
	Cleanup   time.Duration `json:"cleanup"`
}

// ExecutionOutcome is what a runner reports back for one attempt.
type ExecutionOutcome struct {
	Status           ExecutionStatus `json:"status"`
	ExitCode         int             `json:"exit_code"`
	Stdout           string          `json:"stdout"`
	Stderr           string          `json:"stderr"`
	StructuredOutput map[string]any  `json:"structured_output,omitempty"`
	Condition        *bool           `json:"condition,omitempty"`
	Phases           PhaseDurations  `json:"phases"`
	Reason           string          `json:"reason,omitempty"`
}

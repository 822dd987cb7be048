package models

import (
	"strconv"
	"time"
)

// DueTrigger is one occurrence of "this event should run now". The
// scheduler emits them for due schedules; the API front door emits them for
// manual and webhook triggers; the action engine and the workflow
// orchestrator emit chained ones.
type DueTrigger struct {
	// TriggerID identifies the logical occurrence. All retry attempts of
	// this occurrence share it.
	TriggerID string      `json:"trigger_id"`
	EventID   string      `json:"event_id"`
	Type      TriggerType `json:"type"`

	// Attempt is 1-based and incremented by the dispatcher on retry.
	Attempt int `json:"attempt"`

	// ChainDepth counts run_event hops from the originating trigger.
	// Bounds otherwise-undetectable indirect cycles.
	ChainDepth int `json:"chain_depth"`

	Payload map[string]any `json:"payload,omitempty"`

	// PrevLastRunAt is the evaluator's snapshot of the event's LastRunAt
	// when it computed due-ness. The dispatcher's compare-and-swap claim
	// uses it so duplicate evaluator ticks fire at most once.
	PrevLastRunAt *time.Time `json:"prev_last_run_at,omitempty"`

	// Workflow tags, set when the trigger dispatches a DAG node.
	WorkflowID          string `json:"workflow_id,omitempty"`
	WorkflowExecutionID string `json:"workflow_execution_id,omitempty"`
	NodeID              string `json:"node_id,omitempty"`
	SequenceOrder       int    `json:"sequence_order,omitempty"`

	FiredAt time.Time `json:"fired_at"`
}

// Job is the ephemeral dispatch unit: a due trigger with its payload fully
// resolved. It is owned by the dispatcher until handed to a runner and is
// never persisted beyond its lifetime.
type Job struct {
	// ExecutionID back-references the pending ExecutionRecord this job
	// will populate.
	ExecutionID string
	EventID     string

	Trigger DueTrigger

	ScriptType ScriptType
	Script     string
	HTTP       *HTTPRequestConfig

	// Environment is fully interpolated: definition-level plus user-level
	// pairs plus the engine's own contract variables.
	Environment map[string]string

	// Target is resolved for remote jobs; nil for local and HTTP jobs.
	Target *Server

	Timeout time.Duration
}

// Server holds resolved connection parameters for a remote target. The
// engine receives these from the credential resolver and never stores them.
type Server struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	PrivateKey string `json:"private_key,omitempty"`
	Password   string `json:"password,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// Addr returns the host:port dial address, defaulting to port 22.
func (s *Server) Addr() string {
	port := s.Port
	if port == 0 {
		port = 22
	}

	return s.Host + ":" + strconv.Itoa(port)
}

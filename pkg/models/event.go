package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// EventStatus represents the lifecycle state of an event definition.
type EventStatus string

const (
	EventStatusDraft    EventStatus = "draft"    // Editable, not scheduled
	EventStatusActive   EventStatus = "active"   // Scheduled and runnable
	EventStatusPaused   EventStatus = "paused"   // Kept but not scheduled
	EventStatusArchived EventStatus = "archived" // Historical, never scheduled
	EventStatusError    EventStatus = "error"    // Configuration error, excluded until corrected
)

// RunLocation selects where an event's script executes.
type RunLocation string

const (
	RunLocationLocal  RunLocation = "local"
	RunLocationRemote RunLocation = "remote"
)

// ScheduleUnit is the unit of the simple interval schedule.
type ScheduleUnit string

const (
	ScheduleUnitSeconds ScheduleUnit = "seconds"
	ScheduleUnitMinutes ScheduleUnit = "minutes"
	ScheduleUnitHours   ScheduleUnit = "hours"
	ScheduleUnitDays    ScheduleUnit = "days"
)

// TimeoutUnit is the unit of the execution timeout.
type TimeoutUnit string

const (
	TimeoutUnitSeconds TimeoutUnit = "seconds"
	TimeoutUnitMinutes TimeoutUnit = "minutes"
	TimeoutUnitHours   TimeoutUnit = "hours"
)

// EventDefinition is the durable configuration of one automatable event:
// what to run, where, when, and what to do with the outcome.
type EventDefinition struct {
	ID          string     `json:"id"          validate:"required"`
	Name        string     `json:"name"        validate:"required,min=1"`
	Description string     `json:"description,omitempty"`
	ScriptType  ScriptType `json:"script_type" validate:"required"`

	// Script is the body executed by the interpreter. Absent for
	// http_request events, which carry HTTPRequest instead.
	Script      string             `json:"script,omitempty"`
	HTTPRequest *HTTPRequestConfig `json:"http_request,omitempty"`

	// Scheduling: either a simple interval, a cron expression, or a
	// one-shot start time. Manual and webhook triggers bypass all three.
	ScheduleNumber int          `json:"schedule_number,omitempty"`
	ScheduleUnit   ScheduleUnit `json:"schedule_unit,omitempty"`
	CustomSchedule string       `json:"custom_schedule,omitempty"`
	StartTime      *time.Time   `json:"start_time,omitempty"`

	RunLocation RunLocation `json:"run_location" validate:"required"`
	ServerIDs   []string    `json:"server_ids,omitempty"`

	TimeoutValue int         `json:"timeout_value,omitempty"`
	TimeoutUnit  TimeoutUnit `json:"timeout_unit,omitempty"`
	Retries      int         `json:"retries"       validate:"gte=0"`

	// AllowOverlap disables the single-active-execution policy for this
	// event, letting concurrent attempts run.
	AllowOverlap bool `json:"allow_overlap,omitempty"`

	Status EventStatus `json:"status" validate:"required"`

	// StatusReason explains why the event is in its current status,
	// set when the scheduler or dispatcher marks it errored.
	StatusReason string `json:"status_reason,omitempty"`

	Environment        map[string]string    `json:"environment,omitempty"`
	ConditionalActions []*ConditionalAction `json:"conditional_actions,omitempty"`
	// PayloadSchema optionally constrains webhook payloads (JSON schema).
	PayloadSchema map[string]any `json:"payload_schema,omitempty"`

	// Run-state fields, mutated only by the dispatcher under a
	// compare-and-swap guard.
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	ExecutionCount int64      `json:"execution_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrInvalidSchedule    = errors.New("invalid schedule configuration")
	ErrRemoteNeedsServers = errors.New("remote events require at least one server")
	ErrMissingScript      = errors.New("script body is required for this script type")
	ErrMissingHTTPRequest = errors.New("http_request events require a request configuration")
	ErrSelfTargeting      = errors.New("conditional action cannot target its own event")
)

// cronParser accepts standard five-field expressions with an optional
// leading seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate checks the structural invariants of the definition. It is run
// once at the boundary (API create/update, store load), not at every
// consumption site.
func (e *EventDefinition) Validate() error {
	if !e.ScriptType.Valid() {
		return fmt.Errorf("unknown script type %q", e.ScriptType)
	}

	switch e.ScriptType {
	case ScriptTypeHTTPRequest:
		if e.Script != "" {
			return errors.New("http_request events must not carry a script body")
		}

		if e.HTTPRequest == nil {
			return ErrMissingHTTPRequest
		}
	default:
		if e.Script == "" {
			return ErrMissingScript
		}
	}

	if e.RunLocation == RunLocationRemote && len(e.ServerIDs) == 0 {
		return ErrRemoteNeedsServers
	}

	if e.CustomSchedule != "" {
		if _, err := cronParser.Parse(e.CustomSchedule); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidSchedule, err)
		}
	}

	if e.Retries < 0 {
		return errors.New("retries must be >= 0")
	}

	for _, action := range e.ConditionalActions {
		if err := action.Validate(e.ID); err != nil {
			return err
		}
	}

	return nil
}

// Interval returns the simple-schedule interval, or zero when the event is
// not interval-scheduled.
func (e *EventDefinition) Interval() time.Duration {
	if e.ScheduleNumber <= 0 {
		return 0
	}

	switch e.ScheduleUnit {
	case ScheduleUnitSeconds:
		return time.Duration(e.ScheduleNumber) * time.Second
	case ScheduleUnitMinutes:
		return time.Duration(e.ScheduleNumber) * time.Minute
	case ScheduleUnitHours:
		return time.Duration(e.ScheduleNumber) * time.Hour
	case ScheduleUnitDays:
		return time.Duration(e.ScheduleNumber) * 24 * time.Hour
	default:
		return 0
	}
}

// Timeout returns the watchdog deadline for one attempt. Events without an
// explicit timeout get a one hour default.
func (e *EventDefinition) Timeout() time.Duration {
	if e.TimeoutValue <= 0 {
		return time.Hour
	}

	switch e.TimeoutUnit {
	case TimeoutUnitMinutes:
		return time.Duration(e.TimeoutValue) * time.Minute
	case TimeoutUnitHours:
		return time.Duration(e.TimeoutValue) * time.Hour
	default:
		return time.Duration(e.TimeoutValue) * time.Second
	}
}

// IsDue reports whether the event should fire at now, based on the last run
// (or creation time when never run). One-shot events fire once and never
// again: claiming the run sets LastRunAt, which exhausts them.
func (e *EventDefinition) IsDue(now time.Time) (bool, error) {
	if e.Status != EventStatusActive {
		return false, nil
	}

	if e.StartTime != nil {
		return e.LastRunAt == nil && !now.Before(*e.StartTime), nil
	}

	anchor := e.CreatedAt
	if e.LastRunAt != nil {
		anchor = *e.LastRunAt
	}

	if e.CustomSchedule != "" {
		sched, err := cronParser.Parse(e.CustomSchedule)
		if err != nil {
			return false, fmt.Errorf("%w: %s", ErrInvalidSchedule, err)
		}

		return !sched.Next(anchor).After(now), nil
	}

	interval := e.Interval()
	if interval <= 0 {
		return false, nil
	}

	return !anchor.Add(interval).After(now), nil
}

package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrEventNotFound indicates an event definition was not found.
	ErrEventNotFound = errors.New("event not found")

	// ErrRecordNotFound indicates an execution record was not found.
	ErrRecordNotFound = errors.New("execution record not found")

	// ErrWorkflowNotFound indicates a workflow was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowExecutionNotFound indicates a workflow execution was not found.
	ErrWorkflowExecutionNotFound = errors.New("workflow execution not found")

	// ErrServerNotFound indicates the target resolver knows no such server.
	ErrServerNotFound = errors.New("server not found")

	// ErrTerminalRecord indicates an attempt to mutate a finalized record.
	ErrTerminalRecord = errors.New("execution record is terminal")
)

// StoreError wraps a persistence failure with the operation and entity id.
type StoreError struct {
	Op  string // Operation being performed (e.g. "EventByID", "SaveWorkflow")
	ID  string // Entity id if applicable
	Err error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.ID, e.Err)
	}

	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrWorkflowExecutionNotFound) ||
		errors.Is(err, ErrServerNotFound)
}

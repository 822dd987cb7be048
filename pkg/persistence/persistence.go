// Package persistence provides the storage abstraction consumed by the
// engine. The engine mandates no storage technology; implementations only
// have to honor the repository contracts, in particular the
// compare-and-swap semantics of ClaimRun.
package persistence

import (
	"context"
	"time"

	"github.com/oru-io/conduct/pkg/models"
)

type Persistence interface {
	Events() EventRepository
	Executions() ExecutionRepository
	Workflows() WorkflowRepository
	WorkflowExecutions() WorkflowExecutionRepository
	Servers() ServerRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type EventRepository interface {
	Events(ctx context.Context) ([]*models.EventDefinition, error)
	ActiveEvents(ctx context.Context) ([]*models.EventDefinition, error)
	EventByID(ctx context.Context, id string) (*models.EventDefinition, error)
	SaveEvent(ctx context.Context, event *models.EventDefinition) error
	DeleteEvent(ctx context.Context, id string) error

	// MarkEventError surfaces a configuration error against the event and
	// excludes it from further evaluation until corrected.
	MarkEventError(ctx context.Context, id, reason string) error

	// ClaimRun advances the event's run-state (LastRunAt, ExecutionCount)
	// if and only if LastRunAt still equals prev. Two dispatcher
	// instances racing on the same due trigger see exactly one true.
	ClaimRun(ctx context.Context, id string, prev *time.Time, runAt time.Time) (bool, error)
}

type ExecutionRepository interface {
	CreateRecord(ctx context.Context, record *models.ExecutionRecord) error
	UpdateRecord(ctx context.Context, record *models.ExecutionRecord) error
	RecordByID(ctx context.Context, id string) (*models.ExecutionRecord, error)
	RecordsByEvent(ctx context.Context, eventID string, limit int) ([]*models.ExecutionRecord, error)

	// HasActiveRecord reports whether a pending or running record exists
	// for the event. Drives the single-active-execution policy.
	HasActiveRecord(ctx context.Context, eventID string) (bool, error)
}

type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

type WorkflowExecutionRepository interface {
	SaveWorkflowExecution(ctx context.Context, execution *models.WorkflowExecution) error
	WorkflowExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	WorkflowExecutionsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error)
}

// ServerRepository is the boundary to the credential/target resolver. The
// engine reads connection parameters through it and never stores raw
// credentials itself.
type ServerRepository interface {
	ServerByID(ctx context.Context, id string) (*models.Server, error)
}

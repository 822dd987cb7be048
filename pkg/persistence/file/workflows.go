package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/persistence"
)

// WorkflowRepository stores workflow DAG definitions.
type WorkflowRepository struct {
	dir string
	mu  sync.Mutex
}

func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{dir: filepath.Join(root, "workflows")}
}

func (r *WorkflowRepository) Workflows(_ context.Context) ([]*models.Workflow, error) {
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		return []*models.Workflow{}, nil
	}

	ids, err := listDocumentIDs(r.dir)
	if err != nil {
		return nil, &persistence.StoreError{Op: "Workflows", Err: err}
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow := &models.Workflow{}

		found, err := readDocument(r.dir, id, workflow)
		if err != nil {
			return nil, &persistence.StoreError{Op: "Workflows", ID: id, Err: err}
		}

		if found {
			workflows = append(workflows, workflow)
		}
	}

	return workflows, nil
}

func (r *WorkflowRepository) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	workflow := &models.Workflow{}

	found, err := readDocument(r.dir, id, workflow)
	if err != nil {
		return nil, &persistence.StoreError{Op: "WorkflowByID", ID: id, Err: err}
	}

	if !found {
		return nil, persistence.ErrWorkflowNotFound
	}

	return workflow, nil
}

func (r *WorkflowRepository) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if err := writeDocument(r.dir, workflow.ID, workflow); err != nil {
		return &persistence.StoreError{Op: "SaveWorkflow", ID: workflow.ID, Err: err}
	}

	return nil
}

func (r *WorkflowRepository) DeleteWorkflow(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := deleteDocument(r.dir, id); err != nil {
		return &persistence.StoreError{Op: "DeleteWorkflow", ID: id, Err: err}
	}

	return nil
}

// WorkflowExecutionRepository stores workflow execution progress.
type WorkflowExecutionRepository struct {
	dir string
	mu  sync.Mutex
}

func NewWorkflowExecutionRepository(root string) *WorkflowExecutionRepository {
	return &WorkflowExecutionRepository{dir: filepath.Join(root, "workflow_executions")}
}

func (r *WorkflowExecutionRepository) SaveWorkflowExecution(_ context.Context, execution *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeDocument(r.dir, execution.ID, execution); err != nil {
		return &persistence.StoreError{Op: "SaveWorkflowExecution", ID: execution.ID, Err: err}
	}

	return nil
}

func (r *WorkflowExecutionRepository) WorkflowExecutionByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	execution := &models.WorkflowExecution{}

	found, err := readDocument(r.dir, id, execution)
	if err != nil {
		return nil, &persistence.StoreError{Op: "WorkflowExecutionByID", ID: id, Err: err}
	}

	if !found {
		return nil, persistence.ErrWorkflowExecutionNotFound
	}

	return execution, nil
}

func (r *WorkflowExecutionRepository) WorkflowExecutionsByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		return []*models.WorkflowExecution{}, nil
	}

	ids, err := listDocumentIDs(r.dir)
	if err != nil {
		return nil, &persistence.StoreError{Op: "WorkflowExecutionsByWorkflow", Err: err}
	}

	matched := make([]*models.WorkflowExecution, 0)

	for _, id := range ids {
		execution := &models.WorkflowExecution{}

		found, err := readDocument(r.dir, id, execution)
		if err != nil {
			return nil, &persistence.StoreError{Op: "WorkflowExecutionsByWorkflow", ID: id, Err: err}
		}

		if found && execution.WorkflowID == workflowID {
			matched = append(matched, execution)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

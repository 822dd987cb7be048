package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/persistence"
)

// ExecutionRepository stores execution records. Terminal records are
// immutable: updates against a finalized record are rejected.
type ExecutionRepository struct {
	dir string
	mu  sync.Mutex
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{dir: filepath.Join(root, "executions")}
}

func (r *ExecutionRepository) CreateRecord(_ context.Context, record *models.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeDocument(r.dir, record.ID, record); err != nil {
		return &persistence.StoreError{Op: "CreateRecord", ID: record.ID, Err: err}
	}

	return nil
}

func (r *ExecutionRepository) UpdateRecord(_ context.Context, record *models.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := &models.ExecutionRecord{}

	found, err := readDocument(r.dir, record.ID, existing)
	if err != nil {
		return &persistence.StoreError{Op: "UpdateRecord", ID: record.ID, Err: err}
	}

	if !found {
		return persistence.ErrRecordNotFound
	}

	if existing.Status.IsTerminal() {
		return persistence.ErrTerminalRecord
	}

	if !existing.Status.CanTransition(record.Status) && existing.Status != record.Status {
		return &persistence.StoreError{Op: "UpdateRecord", ID: record.ID, Err: persistence.ErrTerminalRecord}
	}

	if err := writeDocument(r.dir, record.ID, record); err != nil {
		return &persistence.StoreError{Op: "UpdateRecord", ID: record.ID, Err: err}
	}

	return nil
}

func (r *ExecutionRepository) RecordByID(_ context.Context, id string) (*models.ExecutionRecord, error) {
	record := &models.ExecutionRecord{}

	found, err := readDocument(r.dir, id, record)
	if err != nil {
		return nil, &persistence.StoreError{Op: "RecordByID", ID: id, Err: err}
	}

	if !found {
		return nil, persistence.ErrRecordNotFound
	}

	return record, nil
}

func (r *ExecutionRepository) RecordsByEvent(_ context.Context, eventID string, limit int) ([]*models.ExecutionRecord, error) {
	all, err := r.records()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.ExecutionRecord, 0)

	for _, record := range all {
		if record.EventID == eventID {
			matched = append(matched, record)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

func (r *ExecutionRepository) HasActiveRecord(_ context.Context, eventID string) (bool, error) {
	all, err := r.records()
	if err != nil {
		return false, err
	}

	for _, record := range all {
		if record.EventID == eventID && !record.Status.IsTerminal() {
			return true, nil
		}
	}

	return false, nil
}

func (r *ExecutionRepository) records() ([]*models.ExecutionRecord, error) {
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		return []*models.ExecutionRecord{}, nil
	}

	ids, err := listDocumentIDs(r.dir)
	if err != nil {
		return nil, &persistence.StoreError{Op: "Records", Err: err}
	}

	records := make([]*models.ExecutionRecord, 0, len(ids))

	for _, id := range ids {
		record := &models.ExecutionRecord{}

		found, err := readDocument(r.dir, id, record)
		if err != nil {
			return nil, &persistence.StoreError{Op: "Records", ID: id, Err: err}
		}

		if found {
			records = append(records, record)
		}
	}

	return records, nil
}

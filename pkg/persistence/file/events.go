package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/persistence"
)

// EventRepository stores event definitions as JSON documents. A process
// mutex serializes run-state mutations so ClaimRun behaves as a
// compare-and-swap within one process; multi-instance deployments layer the
// redis execution lease on top.
type EventRepository struct {
	dir string
	mu  sync.Mutex
}

func NewEventRepository(root string) *EventRepository {
	return &EventRepository{dir: filepath.Join(root, "events")}
}

func (r *EventRepository) Events(_ context.Context) ([]*models.EventDefinition, error) {
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		return []*models.EventDefinition{}, nil
	}

	ids, err := listDocumentIDs(r.dir)
	if err != nil {
		return nil, &persistence.StoreError{Op: "Events", Err: err}
	}

	events := make([]*models.EventDefinition, 0, len(ids))

	for _, id := range ids {
		event := &models.EventDefinition{}

		found, err := readDocument(r.dir, id, event)
		if err != nil {
			return nil, &persistence.StoreError{Op: "Events", ID: id, Err: err}
		}

		if found {
			events = append(events, event)
		}
	}

	return events, nil
}

func (r *EventRepository) ActiveEvents(ctx context.Context) ([]*models.EventDefinition, error) {
	all, err := r.Events(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.EventDefinition, 0, len(all))

	for _, event := range all {
		if event.Status == models.EventStatusActive {
			active = append(active, event)
		}
	}

	return active, nil
}

func (r *EventRepository) EventByID(_ context.Context, id string) (*models.EventDefinition, error) {
	event := &models.EventDefinition{}

	found, err := readDocument(r.dir, id, event)
	if err != nil {
		return nil, &persistence.StoreError{Op: "EventByID", ID: id, Err: err}
	}

	if !found {
		return nil, persistence.ErrEventNotFound
	}

	return event, nil
}

func (r *EventRepository) SaveEvent(_ context.Context, event *models.EventDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}

	event.UpdatedAt = now

	if err := writeDocument(r.dir, event.ID, event); err != nil {
		return &persistence.StoreError{Op: "SaveEvent", ID: event.ID, Err: err}
	}

	return nil
}

func (r *EventRepository) DeleteEvent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := deleteDocument(r.dir, id); err != nil {
		return &persistence.StoreError{Op: "DeleteEvent", ID: id, Err: err}
	}

	return nil
}

func (r *EventRepository) MarkEventError(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, err := r.EventByID(ctx, id)
	if err != nil {
		return err
	}

	event.Status = models.EventStatusError
	event.StatusReason = reason
	event.UpdatedAt = time.Now().UTC()

	if err := writeDocument(r.dir, event.ID, event); err != nil {
		return &persistence.StoreError{Op: "MarkEventError", ID: id, Err: err}
	}

	return nil
}

func (r *EventRepository) ClaimRun(ctx context.Context, id string, prev *time.Time, runAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, err := r.EventByID(ctx, id)
	if err != nil {
		return false, err
	}

	if !sameTime(event.LastRunAt, prev) {
		return false, nil
	}

	event.LastRunAt = &runAt
	event.ExecutionCount++
	event.UpdatedAt = time.Now().UTC()

	if err := writeDocument(r.dir, event.ID, event); err != nil {
		return false, &persistence.StoreError{Op: "ClaimRun", ID: id, Err: err}
	}

	return true, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return a.Equal(*b)
}

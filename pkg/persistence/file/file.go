// Package file provides the file-based persistence implementation used for
// single-host deployments and tests. Each entity is one JSON document under
// a per-type directory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/oru-io/conduct/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root string

	events             *EventRepository
	executions         *ExecutionRepository
	workflows          *WorkflowRepository
	workflowExecutions *WorkflowExecutionRepository
	servers            *ServerRepository
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:               cleanRoot,
		events:             NewEventRepository(cleanRoot),
		executions:         NewExecutionRepository(cleanRoot),
		workflows:          NewWorkflowRepository(cleanRoot),
		workflowExecutions: NewWorkflowExecutionRepository(cleanRoot),
		servers:            NewServerRepository(cleanRoot),
	}
}

func (fp *Persistence) Events() persistence.EventRepository {
	return fp.events
}

func (fp *Persistence) Executions() persistence.ExecutionRepository {
	return fp.executions
}

func (fp *Persistence) Workflows() persistence.WorkflowRepository {
	return fp.workflows
}

func (fp *Persistence) WorkflowExecutions() persistence.WorkflowExecutionRepository {
	return fp.workflowExecutions
}

func (fp *Persistence) Servers() persistence.ServerRepository {
	return fp.servers
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. Nothing to release for files.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// Shared document helpers. Writes go through a temp file plus rename so a
// crashed writer never leaves a half-written document behind.

func writeDocument(dir, id string, value any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(dir, id+".*.tmp")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	return os.Rename(tmp.Name(), filepath.Join(dir, id+".json"))
}

func readDocument(dir, id string, value any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return true, nil
}

func listDocumentIDs(dir string) ([]string, error) {
	entries, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, strings.TrimSuffix(entry, ".json"))
	}

	return ids, nil
}

func deleteDocument(dir, id string) error {
	err := os.Remove(filepath.Join(dir, id+".json"))
	if os.IsNotExist(err) {
		return nil
	}

	return err
}

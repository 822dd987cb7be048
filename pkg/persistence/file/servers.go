package file

import (
	"context"
	"path/filepath"

	"github.com/oru-io/conduct/pkg/models"
	"github.com/oru-io/conduct/pkg/persistence"
)

// ServerRepository reads connection parameters written by the external
// credential manager. The engine treats the documents as read-only.
type ServerRepository struct {
	dir string
}

func NewServerRepository(root string) *ServerRepository {
	return &ServerRepository{dir: filepath.Join(root, "servers")}
}

func (r *ServerRepository) ServerByID(_ context.Context, id string) (*models.Server, error) {
	server := &models.Server{}

	found, err := readDocument(r.dir, id, server)
	if err != nil {
		return nil, &persistence.StoreError{Op: "ServerByID", ID: id, Err: err}
	}

	if !found {
		return nil, persistence.ErrServerNotFound
	}

	return server, nil
}

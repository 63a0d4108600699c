package library

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// ListFilter narrows List results.
type ListFilter struct {
	Status Status
	Limit  int
}

// FileUpdate describes a replaced document file.
type FileUpdate struct {
	BlobKey  string
	FileName string
	FileSize int64
	HasOCR   bool
}

// Store persists documents.
type Store interface {
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context, filter ListFilter) ([]*Document, error)
	// Create stores a new document and returns its id.
	Create(ctx context.Context, doc *Document) (string, error)
	UpdateFields(ctx context.Context, id string, fields Fields) error
	UpdateFile(ctx context.Context, id string, file FileUpdate) error
	SaveIngestion(ctx context.Context, id string, upd IngestionUpdate) error
	SaveSnapshot(ctx context.Context, id string, snap *Snapshot) error
	Delete(ctx context.Context, id string) error
}

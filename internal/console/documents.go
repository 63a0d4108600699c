package console

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jackzampolin/stacks/internal/blob"
	"github.com/jackzampolin/stacks/internal/library"
	"github.com/jackzampolin/stacks/internal/metadiff"
)

var copySuffix = regexp.MustCompile(`-\d+$`)

// deriveTitle turns an uploaded file name into a default title.
func deriveTitle(fileName string) string {
	base := filepath.Base(fileName)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	// Remove numeric suffix like "-1", "-2", etc.
	return copySuffix.ReplaceAllString(name, "")
}

// CreateDocument stores a new document. When data is non-empty it is written
// to the blob store under the document's key. A blank title is derived from
// the file name and a blank format from its extension.
func (s *Service) CreateDocument(ctx context.Context, fields library.Fields, fileName string, data []byte) (*library.Document, error) {
	doc := &library.Document{Fields: fields.Clone(), FileName: filepath.Base(fileName)}
	if strings.TrimSpace(doc.Title) == "" && fileName != "" {
		doc.Title = deriveTitle(fileName)
	}
	if doc.Format == "" {
		doc.Format = strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	}
	if len(data) > 0 {
		if s.blobs == nil {
			return nil, unavailable("blob store")
		}
		doc.FileSize = int64(len(data))
	}

	id, err := s.store.Create(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	logger := s.logger.With("document_id", id)

	if len(data) > 0 {
		key := blob.DocumentKey(id, fileName)
		if err := s.blobs.Put(ctx, key, data); err != nil {
			if derr := s.store.Delete(context.WithoutCancel(ctx), id); derr != nil {
				logger.Warn("failed to remove document after blob write failure", "error", derr)
			}
			return nil, fmt.Errorf("failed to store file: %w", err)
		}
		upd := library.FileUpdate{BlobKey: key, FileName: doc.FileName, FileSize: int64(len(data))}
		if err := s.store.UpdateFile(ctx, id, upd); err != nil {
			return nil, fmt.Errorf("failed to record file: %w", err)
		}
	}

	logger.Info("document created", "title", doc.Title, "file_size", len(data))
	return s.store.Get(ctx, id)
}

// Get returns a document.
func (s *Service) Get(ctx context.Context, id string) (*library.Document, error) {
	return s.store.Get(ctx, id)
}

// List returns documents, newest first.
func (s *Service) List(ctx context.Context, filter library.ListFilter) ([]*library.Document, error) {
	return s.store.List(ctx, filter)
}

// UpdateFields replaces a document's metadata. The ingestion snapshot is
// left alone, so the change shows up in Diff until the next resync.
func (s *Service) UpdateFields(ctx context.Context, id string, fields library.Fields) (*library.Document, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// File size tracks the stored file, not operator input.
	fields.FileSize = doc.FileSize
	if err := s.store.UpdateFields(ctx, id, fields); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return s.store.Get(ctx, id)
}

// Delete removes a document and its file. A document that is being
// processed cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	release, err := s.registry.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.BlobKey != "" && s.blobs != nil {
		if err := s.blobs.Delete(ctx, doc.BlobKey); err != nil && !errors.Is(err, blob.ErrNotFound) {
			return fmt.Errorf("failed to delete file: %w", err)
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("document deleted", "document_id", id)
	return nil
}

// Diff previews the payload Resync would send; nil means nothing changed.
func (s *Service) Diff(ctx context.Context, id string) (map[string]any, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return metadiff.Diff(doc), nil
}

// file loads a document's stored file.
func (s *Service) file(ctx context.Context, doc *library.Document) ([]byte, error) {
	if doc.BlobKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoFile, doc.ID)
	}
	if s.blobs == nil {
		return nil, unavailable("blob store")
	}
	data, err := s.blobs.Get(ctx, doc.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func contentType(fileName string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

package library

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/stacks/internal/defra"
)

// Collection is the DefraDB collection that holds documents.
const Collection = "Document"

var documentFields = []string{
	"_docID",
	"title",
	"author",
	"publication_year",
	"publisher",
	"summary",
	"keywords",
	"language",
	"format",
	"file_size",
	"cover_image_url",
	"publication_types",
	"labels",
	"categories",
	"release_version",
	"blob_key",
	"file_name",
	"has_ocr",
	"ingestion_status",
	"primary_a_status",
	"primary_b_status",
	"secondary_status",
	"last_ingestion_detail",
	"last_ingested_at",
	"metadata_snapshot",
	"created_at",
	"updated_at",
}

// DefraStore persists documents in DefraDB.
type DefraStore struct {
	client *defra.Client
	logger *slog.Logger
}

// NewDefraStore creates a store backed by the given DefraDB client.
func NewDefraStore(client *defra.Client, logger *slog.Logger) *DefraStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefraStore{client: client, logger: logger}
}

func (s *DefraStore) Get(ctx context.Context, id string) (*Document, error) {
	if err := defra.ValidateID(id); err != nil {
		return nil, fmt.Errorf("invalid document id: %w", err)
	}

	resp, err := defra.NewQuery(Collection).
		Filter("_docID", id).
		Fields(documentFields...).
		Execute(ctx, s.client)
	if err != nil {
		return nil, err
	}
	if errMsg := resp.Error(); errMsg != "" {
		return nil, fmt.Errorf("query error: %s", errMsg)
	}

	docs, ok := resp.Data[Collection].([]any)
	if !ok || len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m, ok := docs[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected response format: %+v", resp.Data)
	}
	return parseDocument(m)
}

func (s *DefraStore) List(ctx context.Context, filter ListFilter) ([]*Document, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	q := defra.NewQuery(Collection).
		Fields(documentFields...).
		OrderBy("created_at", "DESC").
		Limit(limit)
	if filter.Status != "" {
		q.Filter("ingestion_status", string(filter.Status))
	}

	resp, err := q.Execute(ctx, s.client)
	if err != nil {
		return nil, err
	}
	if errMsg := resp.Error(); errMsg != "" {
		return nil, fmt.Errorf("query error: %s", errMsg)
	}

	raw, _ := resp.Data[Collection].([]any)
	out := make([]*Document, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		doc, err := parseDocument(m)
		if err != nil {
			s.logger.Warn("skipping unreadable document", "error", err)
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *DefraStore) Create(ctx context.Context, doc *Document) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	input := fieldsInput(doc.Fields)
	input["blob_key"] = doc.BlobKey
	input["file_name"] = doc.FileName
	input["has_ocr"] = doc.HasOCR

	status := doc.IngestionStatus
	if status == "" {
		status = StatusPending
	}
	backends := doc.Backends
	if backends == (Backends{}) {
		backends = NoBackends()
	}
	input["ingestion_status"] = string(status)
	input["primary_a_status"] = string(backends.PrimaryA)
	input["primary_b_status"] = string(backends.PrimaryB)
	input["secondary_status"] = string(backends.Secondary)
	input["created_at"] = now
	input["updated_at"] = now

	id, err := s.client.Create(ctx, Collection, input)
	if err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}
	s.logger.Info("document created", "document_id", id, "title", doc.Title)
	return id, nil
}

func (s *DefraStore) UpdateFields(ctx context.Context, id string, fields Fields) error {
	input := fieldsInput(fields)
	return s.update(ctx, id, input)
}

func (s *DefraStore) UpdateFile(ctx context.Context, id string, file FileUpdate) error {
	input := map[string]any{"file_size": file.FileSize}
	if file.BlobKey != "" {
		input["blob_key"] = file.BlobKey
	}
	if file.FileName != "" {
		input["file_name"] = file.FileName
	}
	if file.HasOCR {
		input["has_ocr"] = true
	}
	return s.update(ctx, id, input)
}

func (s *DefraStore) SaveIngestion(ctx context.Context, id string, upd IngestionUpdate) error {
	input := map[string]any{
		"ingestion_status":      string(upd.Status),
		"primary_a_status":      string(upd.Backends.PrimaryA),
		"primary_b_status":      string(upd.Backends.PrimaryB),
		"secondary_status":      string(upd.Backends.Secondary),
		"last_ingestion_detail": upd.Detail,
	}
	if upd.IngestedAt != nil {
		input["last_ingested_at"] = upd.IngestedAt.UTC().Format(time.RFC3339)
	}
	if upd.Snapshot != nil {
		raw, err := upd.Snapshot.Marshal()
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		input["metadata_snapshot"] = raw
	}
	return s.update(ctx, id, input)
}

func (s *DefraStore) SaveSnapshot(ctx context.Context, id string, snap *Snapshot) error {
	raw := ""
	if snap != nil {
		var err error
		if raw, err = snap.Marshal(); err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
	}
	return s.update(ctx, id, map[string]any{"metadata_snapshot": raw})
}

func (s *DefraStore) Delete(ctx context.Context, id string) error {
	if err := defra.ValidateID(id); err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}
	return s.client.Delete(ctx, Collection, id)
}

func (s *DefraStore) update(ctx context.Context, id string, input map[string]any) error {
	if err := defra.ValidateID(id); err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}
	input["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	if err := s.client.Update(ctx, Collection, id, input); err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	return nil
}

func fieldsInput(f Fields) map[string]any {
	return map[string]any{
		"title":             f.Title,
		"author":            f.Author,
		"publication_year":  f.PublicationYear,
		"publisher":         f.Publisher,
		"summary":           f.Summary,
		"keywords":          nonNil(f.Keywords),
		"language":          f.Language,
		"format":            f.Format,
		"file_size":         f.FileSize,
		"cover_image_url":   f.CoverImageURL,
		"publication_types": nonNil(f.PublicationTypes),
		"labels":            nonNil(f.Labels),
		"categories":        nonNil(f.Categories),
		"release_version":   f.ReleaseVersion,
	}
}

func parseDocument(m map[string]any) (*Document, error) {
	doc := &Document{
		ID: getString(m, "_docID"),
		Fields: Fields{
			Title:            getString(m, "title"),
			Author:           getString(m, "author"),
			PublicationYear:  int(getFloat(m, "publication_year")),
			Publisher:        getString(m, "publisher"),
			Summary:          getString(m, "summary"),
			Keywords:         getStrings(m, "keywords"),
			Language:         getString(m, "language"),
			Format:           getString(m, "format"),
			FileSize:         int64(getFloat(m, "file_size")),
			CoverImageURL:    getString(m, "cover_image_url"),
			PublicationTypes: getStrings(m, "publication_types"),
			Labels:           getStrings(m, "labels"),
			Categories:       getStrings(m, "categories"),
			ReleaseVersion:   getString(m, "release_version"),
		},
		BlobKey:             getString(m, "blob_key"),
		FileName:            getString(m, "file_name"),
		IngestionStatus:     Status(getString(m, "ingestion_status")),
		LastIngestionDetail: getString(m, "last_ingestion_detail"),
		Backends: Backends{
			PrimaryA:  backendStatus(getString(m, "primary_a_status")),
			PrimaryB:  backendStatus(getString(m, "primary_b_status")),
			Secondary: backendStatus(getString(m, "secondary_status")),
		},
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("document without _docID")
	}
	if doc.IngestionStatus == "" {
		doc.IngestionStatus = StatusPending
	}
	doc.HasOCR, _ = m["has_ocr"].(bool)

	if ts := getString(m, "last_ingested_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			doc.LastIngestedAt = &t
		}
	}
	if ts := getString(m, "created_at"); ts != "" {
		doc.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	if ts := getString(m, "updated_at"); ts != "" {
		doc.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
	}

	snap, err := ParseSnapshot(getString(m, "metadata_snapshot"))
	if err != nil {
		return nil, fmt.Errorf("document %s has a corrupt snapshot: %w", doc.ID, err)
	}
	doc.Snapshot = snap
	return doc, nil
}

func backendStatus(s string) BackendStatus {
	if s == "" {
		return BackendNone
	}
	return BackendStatus(s)
}

func getString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func getFloat(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}

func getStrings(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

var _ Store = (*DefraStore)(nil)

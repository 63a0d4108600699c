package library

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and the server's
// --memory mode. Error fields let tests inject failures.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document

	// SaveIngestionErr is returned by SaveIngestion when non-nil.
	SaveIngestionErr error
	// GetErr is returned by Get when non-nil.
	GetErr error

	ingestionWrites int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Document)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Document, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Document, 0, len(m.docs))
	for _, doc := range m.docs {
		if filter.Status != "" && doc.IngestionStatus != filter.Status {
			continue
		}
		out = append(out, doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Create(_ context.Context, doc *Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := doc.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := m.docs[stored.ID]; exists {
		return "", fmt.Errorf("document %s already exists", stored.ID)
	}
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.IngestionStatus == "" {
		stored.IngestionStatus = StatusPending
	}
	if stored.Backends == (Backends{}) {
		stored.Backends = NoBackends()
	}
	m.docs[stored.ID] = stored
	return stored.ID, nil
}

func (m *MemoryStore) UpdateFields(_ context.Context, id string, fields Fields) error {
	return m.update(id, func(d *Document) {
		d.Fields = fields.Clone()
	})
}

func (m *MemoryStore) UpdateFile(_ context.Context, id string, file FileUpdate) error {
	return m.update(id, func(d *Document) {
		if file.BlobKey != "" {
			d.BlobKey = file.BlobKey
		}
		if file.FileName != "" {
			d.FileName = file.FileName
		}
		d.FileSize = file.FileSize
		d.HasOCR = d.HasOCR || file.HasOCR
	})
}

func (m *MemoryStore) SaveIngestion(_ context.Context, id string, upd IngestionUpdate) error {
	if m.SaveIngestionErr != nil {
		return m.SaveIngestionErr
	}
	return m.update(id, func(d *Document) {
		m.ingestionWrites++
		d.IngestionStatus = upd.Status
		d.Backends = upd.Backends
		d.LastIngestionDetail = upd.Detail
		if upd.IngestedAt != nil {
			t := *upd.IngestedAt
			d.LastIngestedAt = &t
		}
		if upd.Snapshot != nil {
			d.Snapshot = NewSnapshot(upd.Snapshot.Fields, upd.Snapshot.CapturedAt)
		}
	})
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, id string, snap *Snapshot) error {
	return m.update(id, func(d *Document) {
		if snap == nil {
			d.Snapshot = nil
			return
		}
		d.Snapshot = NewSnapshot(snap.Fields, snap.CapturedAt)
	})
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.docs, id)
	return nil
}

// IngestionWrites returns how many times SaveIngestion persisted an update.
func (m *MemoryStore) IngestionWrites() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ingestionWrites
}

func (m *MemoryStore) update(id string, fn func(*Document)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(doc)
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

var _ Store = (*MemoryStore)(nil)

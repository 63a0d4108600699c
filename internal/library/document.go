// Package library holds the document model shared by the ingestion pipeline
// and the stores that persist it.
package library

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the aggregate ingestion status of a document.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// BackendStatus is the outcome recorded for one downstream store.
type BackendStatus string

const (
	BackendNone    BackendStatus = "none"
	BackendSuccess BackendStatus = "success"
	BackendError   BackendStatus = "error"
)

// Backends holds the per-backend statuses of the last ingestion attempt.
type Backends struct {
	PrimaryA  BackendStatus `json:"primary_a"`
	PrimaryB  BackendStatus `json:"primary_b"`
	Secondary BackendStatus `json:"secondary"`
}

// NoBackends returns a Backends value with every store set to none.
func NoBackends() Backends {
	return Backends{PrimaryA: BackendNone, PrimaryB: BackendNone, Secondary: BackendNone}
}

// Fields is the tracked metadata of a document. It is also the content of a
// metadata snapshot.
type Fields struct {
	Title            string   `json:"title"`
	Author           string   `json:"author"`
	PublicationYear  int      `json:"publicationYear"`
	Publisher        string   `json:"publisher"`
	Summary          string   `json:"summary"`
	Keywords         []string `json:"keywords"`
	Language         string   `json:"language"`
	Format           string   `json:"format"`
	FileSize         int64    `json:"fileSize"`
	CoverImageURL    string   `json:"coverImageUrl"`
	PublicationTypes []string `json:"publicationTypes"`
	Labels           []string `json:"labels"`
	Categories       []string `json:"categories"`
	ReleaseVersion   string   `json:"releaseVersion"`
}

// Clone returns a deep copy of f.
func (f Fields) Clone() Fields {
	out := f
	out.Keywords = cloneStrings(f.Keywords)
	out.PublicationTypes = cloneStrings(f.PublicationTypes)
	out.Labels = cloneStrings(f.Labels)
	out.Categories = cloneStrings(f.Categories)
	return out
}

// IsPDF reports whether the document format is PDF.
func (f Fields) IsPDF() bool {
	return strings.EqualFold(strings.TrimPrefix(f.Format, "."), "pdf") ||
		strings.EqualFold(f.Format, "application/pdf")
}

// Snapshot is the copy of Fields taken at the last successful ingestion.
type Snapshot struct {
	Fields     Fields    `json:"fields"`
	CapturedAt time.Time `json:"captured_at"`
}

// NewSnapshot captures fields at the given time.
func NewSnapshot(f Fields, at time.Time) *Snapshot {
	return &Snapshot{Fields: f.Clone(), CapturedAt: at.UTC()}
}

// Marshal serializes the snapshot for storage.
func (s *Snapshot) Marshal() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseSnapshot decodes a stored snapshot. An empty string yields nil.
func ParseSnapshot(raw string) (*Snapshot, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Document is a library item.
type Document struct {
	ID string `json:"id"`
	Fields

	// BlobKey locates the document file in the blob store.
	BlobKey  string `json:"blob_key,omitempty"`
	FileName string `json:"file_name,omitempty"`
	HasOCR   bool   `json:"has_ocr"`

	IngestionStatus     Status     `json:"ingestion_status"`
	Backends            Backends   `json:"backends"`
	LastIngestionDetail string     `json:"last_ingestion_detail,omitempty"`
	LastIngestedAt      *time.Time `json:"last_ingested_at,omitempty"`
	Snapshot            *Snapshot  `json:"snapshot,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Fields = d.Fields.Clone()
	if d.LastIngestedAt != nil {
		t := *d.LastIngestedAt
		out.LastIngestedAt = &t
	}
	if d.Snapshot != nil {
		out.Snapshot = NewSnapshot(d.Snapshot.Fields, d.Snapshot.CapturedAt)
	}
	return &out
}

// IngestionUpdate is the persisted outcome of one ingestion attempt.
type IngestionUpdate struct {
	Status   Status
	Backends Backends
	Detail   string
	// IngestedAt is set only when the attempt succeeded.
	IngestedAt *time.Time
	// Snapshot replaces the stored snapshot when non-nil; nil leaves it untouched.
	Snapshot *Snapshot
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

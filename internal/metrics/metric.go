// Package metrics records one append-only Metric per remote job, ingestion
// attempt, metadata resync and classification, and summarises them.
package metrics

import (
	"time"
)

// Collection is the DefraDB collection metrics are stored in.
const Collection = "Metric"

// Kind names the operation a metric describes.
type Kind string

const (
	KindRemoteJob Kind = "remote_job"
	KindIngestion Kind = "ingestion"
	KindResync    Kind = "resync"
	KindClassify  Kind = "classify"
)

// Metric is a single recorded operation.
type Metric struct {
	ID         string        `json:"id,omitempty"`
	Kind       Kind          `json:"kind"`
	DocumentID string        `json:"document_id,omitempty"`
	Tool       string        `json:"tool,omitempty"` // remote tool or ingestion mode
	Task       string        `json:"task,omitempty"`
	Status     string        `json:"status"` // success or error
	ErrorType  string        `json:"error_type,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	InputSize  int64         `json:"input_bytes,omitempty"`
	OutputSize int64         `json:"output_bytes,omitempty"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Success reports whether the operation succeeded.
func (m Metric) Success() bool {
	return m.Status == StatusSuccess
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ToMap converts the metric to a DefraDB input document, leaving out empty
// optional fields.
func (m Metric) ToMap() map[string]any {
	data := map[string]any{
		"kind":             string(m.Kind),
		"status":           m.Status,
		"duration_seconds": m.Duration.Seconds(),
		"created_at":       m.CreatedAt.UTC().Format(time.RFC3339),
	}
	optional := map[string]string{
		"document_id": m.DocumentID,
		"tool":        m.Tool,
		"task":        m.Task,
		"error_type":  m.ErrorType,
		"detail":      m.Detail,
	}
	for k, v := range optional {
		if v != "" {
			data[k] = v
		}
	}
	if m.Attempts > 0 {
		data["attempts"] = m.Attempts
	}
	if m.InputSize > 0 {
		data["input_bytes"] = m.InputSize
	}
	if m.OutputSize > 0 {
		data["output_bytes"] = m.OutputSize
	}
	return data
}

// fromMap decodes a stored metric.
func fromMap(m map[string]any) Metric {
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	num := func(k string) float64 {
		f, _ := m[k].(float64)
		return f
	}

	out := Metric{
		ID:         str("_docID"),
		Kind:       Kind(str("kind")),
		DocumentID: str("document_id"),
		Tool:       str("tool"),
		Task:       str("task"),
		Status:     str("status"),
		ErrorType:  str("error_type"),
		Detail:     str("detail"),
		Attempts:   int(num("attempts")),
		InputSize:  int64(num("input_bytes")),
		OutputSize: int64(num("output_bytes")),
		Duration:   time.Duration(num("duration_seconds") * float64(time.Second)),
	}
	out.CreatedAt, _ = time.Parse(time.RFC3339, str("created_at"))
	return out
}

var fields = []string{
	"_docID",
	"kind",
	"document_id",
	"tool",
	"task",
	"status",
	"error_type",
	"detail",
	"attempts",
	"input_bytes",
	"output_bytes",
	"duration_seconds",
	"created_at",
}

package metrics

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Writer accepts documents for asynchronous insertion. *defra.Sink
// implements it.
type Writer interface {
	Send(collection string, doc map[string]any) error
}

// Recorder persists metrics. A nil *Recorder discards everything, so
// callers need not check whether metrics are enabled.
type Recorder struct {
	writer Writer
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder that writes through w.
func NewRecorder(w Writer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{writer: w, logger: logger, now: time.Now}
}

// Record queues m. Failures are logged, never returned: losing a metric
// must not fail the operation it describes.
func (r *Recorder) Record(m Metric) {
	if r == nil || r.writer == nil {
		return
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	if m.Status == "" {
		m.Status = StatusSuccess
	}
	if err := r.writer.Send(Collection, m.ToMap()); err != nil {
		r.logger.Warn("failed to record metric", "kind", m.Kind, "document_id", m.DocumentID, "error", err)
	}
}

// Observe records an operation of the given kind that started at start and
// ended with err. Extra fields may be filled in through fill.
func (r *Recorder) Observe(kind Kind, documentID string, start time.Time, err error, fill func(*Metric)) {
	if r == nil {
		return
	}
	m := Metric{
		Kind:       kind,
		DocumentID: documentID,
		Status:     StatusSuccess,
		Duration:   r.now().Sub(start),
	}
	if err != nil {
		m.Status = StatusError
		m.ErrorType = ErrorType(err)
		m.Detail = truncate(err.Error(), 300)
	}
	if fill != nil {
		fill(&m)
	}
	r.Record(m)
}

// ErrorType is the default grouping for err. Callers that know the domain
// error types override it through Observe's fill function.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

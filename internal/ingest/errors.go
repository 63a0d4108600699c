package ingest

import (
	"fmt"
	"time"

	"github.com/jackzampolin/stacks/internal/library"
)

// LargePDFWarning is a recoverable pre-flight signal: the PDF has more pages
// than the ingestion pipeline comfortably handles. Callers may resubmit with
// SkipSizeCheck, switch to text-only ingestion, or give up.
type LargePDFWarning struct {
	PageCount int
	Limit     int
	Document  *library.Document
}

func (w *LargePDFWarning) Error() string {
	return fmt.Sprintf("PDF has %d pages (limit %d); resubmit with the size check skipped or ingest text only",
		w.PageCount, w.Limit)
}

// TimeoutError reports that the webhook did not answer within the budget.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ingestion webhook did not respond within %s; the pipeline may still be working, try again later", e.Budget)
}

// ParseError reports an empty or unreadable webhook response.
type ParseError struct {
	Reason string
	Body   string
}

func (e *ParseError) Error() string {
	return "invalid ingestion response: " + e.Reason +
		"; check the ingestion webhook's response contract, it must return a JSON confirmation for every backend"
}

// HTTPError reports a non-2xx webhook response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ingestion webhook returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("ingestion webhook returned HTTP %d: %s", e.StatusCode, e.Body)
}

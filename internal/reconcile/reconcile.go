// Package reconcile turns per-backend ingestion results into one aggregate
// document status and persists it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/stacks/internal/ingest"
	"github.com/jackzampolin/stacks/internal/library"
)

// EmptyResponseMessage is reported when the webhook confirmed nothing.
const EmptyResponseMessage = "ingestion webhook returned no backend results; check the webhook's response contract"

// Outcome is the reconciled result of one ingestion attempt.
type Outcome struct {
	Status   library.Status   `json:"status"`
	Backends library.Backends `json:"backends"`
	Message  string           `json:"message"`
	Detail   string           `json:"detail,omitempty"`
}

// Success reports whether the aggregate status is success.
func (o Outcome) Success() bool { return o.Status == library.StatusSuccess }

// Aggregate computes the outcome of a decoded response. The aggregate is
// success only when both primary backends report ok; the secondary backend
// adds a note but never changes the aggregate.
func Aggregate(resp *ingest.Response) Outcome {
	if resp == nil || (resp.Legacy == nil && len(resp.Variants) == 0) {
		return Outcome{Status: library.StatusError, Backends: library.NoBackends(), Message: EmptyResponseMessage}
	}
	if resp.Legacy != nil {
		return aggregateLegacy(resp)
	}

	out := Outcome{Backends: library.NoBackends(), Detail: resp.Raw}
	var problems []string

	primaries := resp.Primaries()
	names := []string{"primary backend A", "primary backend B"}
	statuses := []*library.BackendStatus{&out.Backends.PrimaryA, &out.Backends.PrimaryB}
	for i := range statuses {
		if i >= len(primaries) {
			*statuses[i] = library.BackendError
			problems = append(problems, names[i]+": no result reported")
			continue
		}
		if primaries[i].OK {
			*statuses[i] = library.BackendSuccess
			continue
		}
		*statuses[i] = library.BackendError
		problems = append(problems, names[i]+": "+describe(primaries[i]))
	}

	if out.Backends.PrimaryA == library.BackendSuccess && out.Backends.PrimaryB == library.BackendSuccess {
		out.Status = library.StatusSuccess
		out.Message = "document ingested into both primary backends"
	} else {
		out.Status = library.StatusError
		out.Message = "ingestion failed: " + strings.Join(problems, "; ")
	}

	if sec := resp.Secondary(); sec != nil {
		if sec.OK {
			out.Backends.Secondary = library.BackendSuccess
		} else {
			out.Backends.Secondary = library.BackendError
			out.Message += fmt.Sprintf(" (note: secondary backend failed: %s)", describe(*sec))
		}
	}
	return out
}

func aggregateLegacy(resp *ingest.Response) Outcome {
	out := Outcome{Backends: library.NoBackends(), Detail: resp.Raw, Message: resp.Legacy.Message}
	if resp.Legacy.Success {
		out.Status = library.StatusSuccess
		out.Backends.PrimaryA = library.BackendSuccess
		out.Backends.PrimaryB = library.BackendSuccess
		if out.Message == "" {
			out.Message = "document ingested"
		}
		return out
	}
	out.Status = library.StatusError
	out.Backends.PrimaryA = library.BackendError
	out.Backends.PrimaryB = library.BackendError
	if out.Message == "" {
		out.Message = "ingestion failed without a message"
	}
	return out
}

func describe(r ingest.BackendResult) string {
	switch {
	case r.Error != "":
		return r.Error
	case r.Message != "":
		return r.Message
	default:
		return "reported failure"
	}
}

// Config configures a Reconciler.
type Config struct {
	Logger *slog.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Reconciler persists ingestion outcomes.
type Reconciler struct {
	store  library.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a reconciler writing to store.
func New(store library.Store, cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{store: store, logger: cfg.Logger, now: cfg.Now}
}

// Reconcile aggregates resp and stores the outcome. A successful outcome
// captures a new metadata snapshot; any other outcome leaves the stored
// snapshot alone.
func (r *Reconciler) Reconcile(ctx context.Context, doc *library.Document, resp *ingest.Response) (Outcome, error) {
	out := Aggregate(resp)
	upd := library.IngestionUpdate{Status: out.Status, Backends: out.Backends, Detail: out.Detail}
	if out.Success() {
		now := r.now().UTC()
		upd.IngestedAt = &now
		upd.Snapshot = library.NewSnapshot(doc.Fields, now)
	}
	if err := r.store.SaveIngestion(ctx, doc.ID, upd); err != nil {
		return out, fmt.Errorf("failed to save ingestion outcome: %w", err)
	}

	logger := r.logger.With("document_id", doc.ID, "status", out.Status)
	if out.Backends.Secondary == library.BackendError {
		logger.Warn("secondary backend failed", "message", out.Message)
	}
	logger.Info("ingestion reconciled",
		"primary_a", out.Backends.PrimaryA,
		"primary_b", out.Backends.PrimaryB,
		"secondary", out.Backends.Secondary)
	return out, nil
}

// Fail records a failed attempt that produced no usable response, such as a
// transport error, a timeout or an unreadable body.
func (r *Reconciler) Fail(ctx context.Context, doc *library.Document, cause error) (Outcome, error) {
	out := Outcome{
		Status: library.StatusError,
		Backends: library.Backends{
			PrimaryA:  library.BackendError,
			PrimaryB:  library.BackendError,
			Secondary: library.BackendNone,
		},
		Message: cause.Error(),
	}
	var parseErr *ingest.ParseError
	if errors.As(cause, &parseErr) {
		out.Detail = parseErr.Body
		if strings.TrimSpace(parseErr.Body) == "" {
			out.Message = EmptyResponseMessage
		}
	}

	upd := library.IngestionUpdate{Status: out.Status, Backends: out.Backends, Detail: out.Detail}
	if err := r.store.SaveIngestion(ctx, doc.ID, upd); err != nil {
		return out, fmt.Errorf("failed to save ingestion failure: %w", err)
	}
	r.logger.Warn("ingestion failed", "document_id", doc.ID, "error", cause)
	return out, nil
}

// Reset returns the document to its never-ingested state. It is used when an
// attempt is abandoned before anything was sent.
func (r *Reconciler) Reset(ctx context.Context, doc *library.Document) error {
	upd := library.IngestionUpdate{Status: library.StatusPending, Backends: library.NoBackends()}
	if err := r.store.SaveIngestion(ctx, doc.ID, upd); err != nil {
		return fmt.Errorf("failed to reset ingestion status: %w", err)
	}
	return nil
}

// Begin marks an attempt as in flight.
func (r *Reconciler) Begin(ctx context.Context, doc *library.Document) error {
	upd := library.IngestionUpdate{Status: library.StatusPending, Backends: doc.Backends, Detail: doc.LastIngestionDetail}
	if err := r.store.SaveIngestion(ctx, doc.ID, upd); err != nil {
		return fmt.Errorf("failed to mark ingestion in progress: %w", err)
	}
	return nil
}

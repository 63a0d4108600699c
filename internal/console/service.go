// Package console is the application service behind the HTTP API. It
// composes the document library, blob storage, remote processing, ingestion
// and status reconciliation into the operations an operator runs.
package console

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/stacks/internal/blob"
	"github.com/jackzampolin/stacks/internal/classify"
	"github.com/jackzampolin/stacks/internal/ingest"
	"github.com/jackzampolin/stacks/internal/library"
	"github.com/jackzampolin/stacks/internal/metrics"
	"github.com/jackzampolin/stacks/internal/reconcile"
	"github.com/jackzampolin/stacks/internal/registry"
	"github.com/jackzampolin/stacks/internal/remote"
	"github.com/jackzampolin/stacks/internal/remotejob"
	"github.com/jackzampolin/stacks/internal/textextract"
)

// DefaultBulkConcurrency bounds how many documents a bulk operation works on
// at once.
const DefaultBulkConcurrency = 4

var (
	// ErrUnavailable is returned when an operation needs a collaborator that
	// is not configured.
	ErrUnavailable = errors.New("not configured")
	// ErrNoFile is returned when a document has no stored file.
	ErrNoFile = errors.New("document has no file")
	// ErrNotIngested is returned by Resync for documents that were never
	// ingested successfully.
	ErrNotIngested = errors.New("document has not been ingested yet")
	// ErrInvalidOptions is returned for operation options that cannot run.
	ErrInvalidOptions = errors.New("invalid options")
)

// Processor runs remote OCR and compression jobs.
type Processor interface {
	OCR(ctx context.Context, file remote.File, language string) (*remotejob.Result, error)
	Compress(ctx context.Context, file remote.File, level string) (*remotejob.Result, error)
	CompressThenOCR(ctx context.Context, file remote.File, level, language string, progress remotejob.Progress) (*remotejob.ChainResult, error)
}

// Submitter delivers documents and metadata updates to the ingestion
// webhook.
type Submitter interface {
	Submit(ctx context.Context, doc *library.Document, art ingest.Artifact, opts ingest.Options) (*ingest.Submission, error)
	UpdateMetadata(ctx context.Context, documentID string, changed map[string]any) error
}

// StatusChecker reports remote API availability.
type StatusChecker interface {
	CheckStatus(ctx context.Context) remote.APIStatus
}

var (
	_ Processor     = (*remotejob.Orchestrator)(nil)
	_ Submitter     = (*ingest.Coordinator)(nil)
	_ StatusChecker = (*remote.Client)(nil)
)

// Config wires a Service. Store and Registry are required; every other
// collaborator is optional and the operations that need it return
// ErrUnavailable without it.
type Config struct {
	Store      library.Store
	Blobs      blob.Store
	Registry   registry.Registry
	Processor  Processor
	Submitter  Submitter
	Remote     StatusChecker
	Extractor  textextract.Extractor
	Classifier classify.Classifier
	Metrics    *metrics.Recorder

	BulkConcurrency int
	Logger          *slog.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Components are the collaborators that can be replaced while the service
// runs, for example after a config reload.
type Components struct {
	Processor Processor
	Submitter Submitter
	Remote    StatusChecker
}

// Service implements the console operations.
type Service struct {
	store      library.Store
	blobs      blob.Store
	registry   registry.Registry
	extractor  textextract.Extractor
	classifier classify.Classifier
	metrics    *metrics.Recorder
	reconciler *reconcile.Reconciler
	bulkLimit  int
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.RWMutex
	components Components
}

// New creates a service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("console: store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("console: registry is required")
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = DefaultBulkConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:      cfg.Store,
		blobs:      cfg.Blobs,
		registry:   cfg.Registry,
		extractor:  cfg.Extractor,
		classifier: cfg.Classifier,
		metrics:    cfg.Metrics,
		reconciler: reconcile.New(cfg.Store, reconcile.Config{Logger: cfg.Logger, Now: cfg.Now}),
		bulkLimit:  cfg.BulkConcurrency,
		logger:     cfg.Logger,
		now:        cfg.Now,
		components: Components{
			Processor: cfg.Processor,
			Submitter: cfg.Submitter,
			Remote:    cfg.Remote,
		},
	}, nil
}

// Reconfigure swaps the replaceable collaborators. Operations already
// running keep the ones they started with.
func (s *Service) Reconfigure(c Components) {
	s.mu.Lock()
	s.components = c
	s.mu.Unlock()
	s.logger.Info("console components reconfigured",
		"processor", c.Processor != nil, "submitter", c.Submitter != nil, "remote", c.Remote != nil)
}

func (s *Service) current() Components {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.components
}

func (s *Service) processor() (Processor, error) {
	if p := s.current().Processor; p != nil {
		return p, nil
	}
	return nil, unavailable("remote processing")
}

func (s *Service) submitter() (Submitter, error) {
	if sub := s.current().Submitter; sub != nil {
		return sub, nil
	}
	return nil, unavailable("ingestion webhook")
}

func unavailable(what string) error {
	return &unavailableError{what: what}
}

type unavailableError struct{ what string }

func (e *unavailableError) Error() string { return e.what + " is not configured" }

func (e *unavailableError) Unwrap() error { return ErrUnavailable }

package console

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackzampolin/stacks/internal/ingest"
	"github.com/jackzampolin/stacks/internal/library"
	"github.com/jackzampolin/stacks/internal/metadiff"
	"github.com/jackzampolin/stacks/internal/metrics"
	"github.com/jackzampolin/stacks/internal/reconcile"
)

// SubmittedMessage is reported for fire-and-forget submissions.
const SubmittedMessage = "ingestion submitted; the status stays pending until the webhook answers"

// IngestOptions control one ingestion.
type IngestOptions struct {
	Mode          ingest.Mode `json:"mode,omitempty"`
	SkipSizeCheck bool        `json:"skip_size_check,omitempty"`
	// TextOnly sends extracted plain text instead of the file.
	TextOnly bool `json:"text_only,omitempty"`
	// AllowIncomplete skips the required-metadata check.
	AllowIncomplete bool `json:"allow_incomplete,omitempty"`
}

// Result is the outcome of an ingestion. Downstream failures are reported
// here with Status error rather than returned as errors.
type Result struct {
	DocumentID string           `json:"document_id"`
	Success    bool             `json:"success"`
	Accepted   bool             `json:"accepted,omitempty"`
	Status     library.Status   `json:"status"`
	Backends   library.Backends `json:"backends"`
	Message    string           `json:"message"`
	Detail     string           `json:"detail,omitempty"`
}

func resultFrom(id string, out reconcile.Outcome) *Result {
	return &Result{
		DocumentID: id,
		Success:    out.Success(),
		Status:     out.Status,
		Backends:   out.Backends,
		Message:    out.Message,
		Detail:     out.Detail,
	}
}

// Ingest sends a document to the ingestion webhook and records the
// reconciled outcome.
//
// The call returns an error, and leaves the stored status unchanged, when
// the document is already being processed, does not exist or lacks required
// metadata. A *ingest.LargePDFWarning is also returned as an error after the
// status is reset to pending. Every other failure is persisted and reported
// in the Result.
//
// A fire-and-forget ingestion returns once the request is dispatched. The
// document keeps its lock and stays pending until the background attempt
// has been reconciled.
func (s *Service) Ingest(ctx context.Context, id string, opts IngestOptions) (*Result, error) {
	sub, err := s.submitter()
	if err != nil {
		return nil, err
	}
	mode, err := ingest.ParseMode(string(opts.Mode))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	opts.Mode = mode

	release, err := s.registry.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	// Set once a background attempt owns the lock.
	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()

	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !opts.AllowIncomplete {
		if err := library.ValidateForIngestion(doc); err != nil {
			return nil, err
		}
	}

	start := s.now()
	art, err := s.artifact(ctx, doc, opts.TextOnly)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("document_id", id, "mode", opts.Mode, "text_only", opts.TextOnly)
	if err := s.reconciler.Begin(ctx, doc); err != nil {
		return nil, err
	}

	submitOpts := ingest.Options{Mode: opts.Mode, SkipSizeCheck: opts.SkipSizeCheck}
	if opts.Mode == ingest.ModeFireAndForget {
		submitOpts.OnComplete = func(bg context.Context, resp *ingest.Response, err error) {
			defer release()
			s.settleBackground(bg, doc, opts, start, resp, err)
		}
	}
	submission, err := sub.Submit(ctx, doc, art, submitOpts)
	// The outcome is persisted even when the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	switch {
	case err != nil:
		var warning *ingest.LargePDFWarning
		if errors.As(err, &warning) {
			if rerr := s.reconciler.Reset(persistCtx, doc); rerr != nil {
				logger.Warn("failed to reset status after size check", "error", rerr)
			}
			logger.Info("ingestion held back by page limit", "pages", warning.PageCount, "limit", warning.Limit)
			s.observeIngestion(id, opts, start, err)
			return nil, err
		}
		out, ferr := s.reconciler.Fail(persistCtx, doc, err)
		s.observeIngestion(id, opts, start, err)
		if ferr != nil {
			return nil, ferr
		}
		return resultFrom(id, out), nil
	case submission.Accepted:
		handedOff = true
		return &Result{
			DocumentID: id,
			Accepted:   true,
			Status:     library.StatusPending,
			Backends:   doc.Backends,
			Message:    SubmittedMessage,
		}, nil
	default:
		out, rerr := s.reconciler.Reconcile(persistCtx, doc, submission.Response)
		if rerr != nil {
			s.observeIngestion(id, opts, start, rerr)
			return nil, rerr
		}
		var outcomeErr error
		if !out.Success() {
			outcomeErr = errors.New(out.Message)
		}
		s.observeIngestion(id, opts, start, outcomeErr)
		return resultFrom(id, out), nil
	}
}

// settleBackground reconciles the outcome of a fire-and-forget ingestion.
func (s *Service) settleBackground(ctx context.Context, doc *library.Document, opts IngestOptions, start time.Time, resp *ingest.Response, err error) {
	logger := s.logger.With("document_id", doc.ID, "mode", opts.Mode)
	if err != nil {
		if _, ferr := s.reconciler.Fail(ctx, doc, err); ferr != nil {
			logger.Warn("failed to record background ingestion failure", "error", ferr)
		}
		s.observeIngestion(doc.ID, opts, start, err)
		return
	}
	out, rerr := s.reconciler.Reconcile(ctx, doc, resp)
	if rerr != nil {
		logger.Warn("failed to record background ingestion outcome", "error", rerr)
		s.observeIngestion(doc.ID, opts, start, rerr)
		return
	}
	var outcomeErr error
	if !out.Success() {
		outcomeErr = errors.New(out.Message)
	}
	s.observeIngestion(doc.ID, opts, start, outcomeErr)
}

// artifact builds what is sent with the document: the stored file, or its
// extracted text.
func (s *Service) artifact(ctx context.Context, doc *library.Document, textOnly bool) (ingest.Artifact, error) {
	data, err := s.file(ctx, doc)
	if err != nil {
		return ingest.Artifact{}, err
	}
	if !textOnly {
		return ingest.Artifact{FileName: doc.FileName, ContentType: contentType(doc.FileName), Data: data}, nil
	}

	if s.extractor == nil {
		return ingest.Artifact{}, unavailable("text extraction")
	}
	text, err := s.extractor.ExtractText(ctx, data)
	if err != nil {
		return ingest.Artifact{}, fmt.Errorf("failed to extract text: %w", err)
	}
	name := strings.TrimSuffix(doc.FileName, filepath.Ext(doc.FileName)) + ".txt"
	return ingest.Artifact{
		FileName:    name,
		ContentType: "text/plain; charset=utf-8",
		Data:        []byte(text),
		TextOnly:    true,
	}, nil
}

func (s *Service) observeIngestion(id string, opts IngestOptions, start time.Time, err error) {
	tool := string(opts.Mode)
	if opts.TextOnly {
		tool += "+text"
	}
	s.metrics.Observe(metrics.KindIngestion, id, start, err, func(m *metrics.Metric) {
		m.Tool = tool
		if err != nil {
			m.ErrorType = ErrorType(err)
		}
	})
}

// ResyncResult is the outcome of a metadata-only update.
type ResyncResult struct {
	DocumentID string   `json:"document_id"`
	Synced     bool     `json:"synced"`
	Changed    []string `json:"changed,omitempty"`
	Message    string   `json:"message"`
}

// Resync sends the metadata fields that changed since the last successful
// ingestion to the metadata webhook and refreshes the snapshot. Nothing is
// sent when nothing changed.
func (s *Service) Resync(ctx context.Context, id string) (*ResyncResult, error) {
	sub, err := s.submitter()
	if err != nil {
		return nil, err
	}
	release, err := s.registry.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Snapshot == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotIngested, id)
	}

	changed := metadiff.Diff(doc)
	if changed == nil {
		return &ResyncResult{DocumentID: id, Message: "metadata unchanged since last ingestion"}, nil
	}
	names := metadiff.Changed(doc)

	start := s.now()
	err = sub.UpdateMetadata(ctx, id, changed)
	s.metrics.Observe(metrics.KindResync, id, start, err, func(m *metrics.Metric) {
		if err != nil {
			m.ErrorType = ErrorType(err)
			return
		}
		m.Detail = strings.Join(names, ",")
	})
	if err != nil {
		return nil, err
	}

	snap := library.NewSnapshot(doc.Fields, s.now())
	if err := s.store.SaveSnapshot(context.WithoutCancel(ctx), id, snap); err != nil {
		return nil, fmt.Errorf("metadata sent but snapshot not saved: %w", err)
	}
	s.logger.Info("metadata resynced", "document_id", id, "changed", names)
	return &ResyncResult{
		DocumentID: id,
		Synced:     true,
		Changed:    names,
		Message:    fmt.Sprintf("updated %d field(s)", len(names)),
	}, nil
}

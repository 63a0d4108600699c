package console

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/stacks/internal/library"
	"github.com/jackzampolin/stacks/internal/metrics"
	"github.com/jackzampolin/stacks/internal/remote"
	"github.com/jackzampolin/stacks/internal/remotejob"
)

// ProcessOptions selects the remote operations to run on a document file.
type ProcessOptions struct {
	Compress bool `json:"compress"`
	OCR      bool `json:"ocr"`
	// Language is a language name or code; it is mapped to the provider's
	// OCR language code.
	Language string `json:"language,omitempty"`
	// Level is the compression level (low, recommended, extreme).
	Level string `json:"level,omitempty"`

	Progress remotejob.Progress `json:"-"`
}

// ProcessResult describes a finished Process call.
type ProcessResult struct {
	Document   *library.Document `json:"document"`
	Operations []string          `json:"operations"`
	InputSize  int64             `json:"input_size"`
	OutputSize int64             `json:"output_size"`
	Duration   time.Duration     `json:"duration"`
}

// Process runs compression, OCR or both on a document's file and replaces
// the stored file with the output. The document is locked for the duration.
func (s *Service) Process(ctx context.Context, id string, opts ProcessOptions) (*ProcessResult, error) {
	if !opts.Compress && !opts.OCR {
		return nil, fmt.Errorf("%w: nothing to do, enable compress or ocr", ErrInvalidOptions)
	}
	if opts.Level != "" && !remote.ValidLevel(opts.Level) {
		return nil, fmt.Errorf("%w: unknown compression level %q", ErrInvalidOptions, opts.Level)
	}
	proc, err := s.processor()
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
	data, err := s.file(ctx, doc)
	if err != nil {
		return nil, err
	}

	start := s.now()
	file := remote.File{Name: doc.FileName, Data: data}
	language := remote.OCRLanguage(opts.Language)
	logger := s.logger.With("document_id", id, "compress", opts.Compress, "ocr", opts.OCR)
	logger.Info("processing document", "input_size", len(data))

	var (
		output []byte
		ops    []string
	)
	switch {
	case opts.Compress && opts.OCR:
		chain, err := proc.CompressThenOCR(ctx, file, opts.Level, language, opts.Progress)
		if chain != nil {
			s.observeJob(id, chain.Compress)
		}
		if err != nil {
			s.observeJobError(id, remote.ToolOCR, start, err)
			return nil, err
		}
		s.observeJob(id, chain.OCR)
		output, ops = chain.OCR.Output, []string{string(remote.ToolCompress), string(remote.ToolOCR)}
	case opts.Compress:
		res, err := proc.Compress(ctx, file, opts.Level)
		if err != nil {
			s.observeJobError(id, remote.ToolCompress, start, err)
			return nil, err
		}
		s.observeJob(id, res)
		output, ops = res.Output, []string{string(remote.ToolCompress)}
	default:
		res, err := proc.OCR(ctx, file, language)
		if err != nil {
			s.observeJobError(id, remote.ToolOCR, start, err)
			return nil, err
		}
		s.observeJob(id, res)
		output, ops = res.Output, []string{string(remote.ToolOCR)}
	}

	if err := s.blobs.Put(ctx, doc.BlobKey, output); err != nil {
		return nil, fmt.Errorf("failed to store processed file: %w", err)
	}
	upd := library.FileUpdate{FileSize: int64(len(output)), HasOCR: opts.OCR}
	if err := s.store.UpdateFile(ctx, id, upd); err != nil {
		return nil, fmt.Errorf("failed to record processed file: %w", err)
	}

	updated, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &ProcessResult{
		Document:   updated,
		Operations: ops,
		InputSize:  int64(len(data)),
		OutputSize: int64(len(output)),
		Duration:   s.now().Sub(start),
	}
	logger.Info("document processed", "output_size", result.OutputSize, "duration", result.Duration)
	return result, nil
}

// observeJob records a finished remote job.
func (s *Service) observeJob(documentID string, res *remotejob.Result) {
	if res == nil || res.Job == nil {
		return
	}
	m := metrics.Metric{
		Kind:       metrics.KindRemoteJob,
		DocumentID: documentID,
		Tool:       string(res.Job.Tool),
		Status:     metrics.StatusSuccess,
		Attempts:   res.Job.PollAttempts,
		InputSize:  res.InputSize,
		OutputSize: res.OutputSize,
		Duration:   res.Duration,
	}
	if res.Job.Task != nil {
		m.Task = res.Job.Task.ID
	}
	s.metrics.Record(m)
}

// observeJobError records a remote job that produced no result.
func (s *Service) observeJobError(documentID string, tool remote.Tool, start time.Time, err error) {
	s.metrics.Observe(metrics.KindRemoteJob, documentID, start, err, func(m *metrics.Metric) {
		m.Tool = string(tool)
		m.ErrorType = ErrorType(err)
		var stage *remotejob.StageError
		if errors.As(err, &stage) {
			m.Tool = string(stage.Tool)
			m.Attempts = stage.Attempts
		}
		var timeout *remotejob.TimeoutError
		if errors.As(err, &timeout) {
			m.Attempts = timeout.Attempts
		}
	})
}

// Package remotejob drives OCR and compression jobs through the remote
// processing API: start, upload, submit, poll, download and cleanup.
package remotejob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/stacks/internal/remote"
)

const (
	DefaultPollInterval    = 30 * time.Second
	DefaultTimeout         = time.Hour
	DefaultMaxArtifactSize = 50 << 20
	cleanupTimeout         = 30 * time.Second
)

// TaskAPI is the subset of the remote client the orchestrator needs.
type TaskAPI interface {
	StartTask(ctx context.Context, tool remote.Tool) (*remote.Task, error)
	UploadFile(ctx context.Context, server, task string, file remote.File) (*remote.UploadedFile, error)
	SubmitProcessing(ctx context.Context, server, task string, tool remote.Tool, files []remote.UploadedFile, opts remote.ProcessOptions) error
	PollStatus(ctx context.Context, server, task string) (remote.TaskStatus, error)
	DownloadResult(ctx context.Context, server, task string) ([]byte, error)
	DeleteTask(ctx context.Context, server, task string)
	RefreshToken(ctx context.Context) error
}

var _ TaskAPI = (*remote.Client)(nil)

// Config configures an Orchestrator.
type Config struct {
	PollInterval time.Duration
	// Timeout is the overall poll budget; Timeout/PollInterval is the
	// maximum number of status checks.
	Timeout         time.Duration
	MaxArtifactSize int64
	Logger          *slog.Logger
}

// Orchestrator runs remote jobs.
type Orchestrator struct {
	api             TaskAPI
	interval        time.Duration
	timeout         time.Duration
	maxAttempts     int
	maxArtifactSize int64
	logger          *slog.Logger
}

// New creates an orchestrator around api.
func New(api TaskAPI, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxArtifactSize <= 0 {
		cfg.MaxArtifactSize = DefaultMaxArtifactSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	maxAttempts := int(cfg.Timeout / cfg.PollInterval)
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Orchestrator{
		api:             api,
		interval:        cfg.PollInterval,
		timeout:         cfg.Timeout,
		maxAttempts:     maxAttempts,
		maxArtifactSize: cfg.MaxArtifactSize,
		logger:          cfg.Logger,
	}
}

// MaxPollAttempts returns the number of status checks before timing out.
func (o *Orchestrator) MaxPollAttempts() int { return o.maxAttempts }

// Request describes one job.
type Request struct {
	Tool    remote.Tool
	File    remote.File
	Options remote.ProcessOptions
}

// Result is a finished job.
type Result struct {
	Job        *Job
	Output     []byte
	InputSize  int64
	OutputSize int64
	Duration   time.Duration
}

// Run executes one job. Once a task has been started it is deleted exactly
// once, whatever the outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	job := newJob(req.Tool)
	logger := o.logger.With("tool", req.Tool, "file", req.File.Name)

	task, err := o.api.StartTask(ctx, req.Tool)
	if err != nil {
		return nil, o.failed(job, StageStart, 1, err)
	}
	job.Task = task
	logger = logger.With("task", task.ID)
	logger.Debug("remote task started", "server", task.Server, "remaining_credits", task.RemainingCredits)
	defer o.cleanup(ctx, job, logger)

	uploaded, err := o.api.UploadFile(ctx, task.Server, task.ID, req.File)
	if err != nil {
		return nil, o.failed(job, StageUpload, 1, err)
	}
	job.transition(StateUploaded)

	if err := o.api.SubmitProcessing(ctx, task.Server, task.ID, req.Tool, []remote.UploadedFile{*uploaded}, req.Options); err != nil {
		return nil, o.failed(job, StageSubmit, 1, err)
	}
	job.transition(StateSubmitted)

	if err := o.poll(ctx, job, logger); err != nil {
		return nil, o.failed(job, StagePoll, job.PollAttempts, err)
	}
	job.transition(StateReady)

	output, err := o.api.DownloadResult(ctx, task.Server, task.ID)
	if err != nil {
		return nil, o.failed(job, StageDownload, 1, err)
	}
	job.transition(StateDownloaded)

	result := &Result{
		Job:        job,
		Output:     output,
		InputSize:  int64(len(req.File.Data)),
		OutputSize: int64(len(output)),
		Duration:   time.Since(start),
	}
	logger.Info("remote job finished",
		"input_bytes", result.InputSize,
		"output_bytes", result.OutputSize,
		"poll_attempts", job.PollAttempts,
		"duration", result.Duration)
	return result, nil
}

func (o *Orchestrator) failed(job *Job, stage Stage, attempts int, err error) error {
	job.fail(stage, err)
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) && apiErr.Attempts > attempts {
		attempts = apiErr.Attempts
	}
	return &StageError{Tool: job.Tool, Stage: stage, Attempts: attempts, Err: err}
}

// cleanup deletes the remote task on a context that survives cancellation of
// the job.
func (o *Orchestrator) cleanup(ctx context.Context, job *Job, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	o.api.DeleteTask(ctx, job.Task.Server, job.Task.ID)
	job.transition(StateCleaned)
	if job.Failed() {
		logger.Warn("remote job failed", "stage", job.FailedStage, "error", job.Err)
	}
}

// poll checks the task status until it is ready or the budget runs out.
// The budget is both an attempt count and a deadline on in-flight checks.
// Transient check failures are logged and polling continues.
func (o *Orchestrator) poll(ctx context.Context, job *Job, logger *slog.Logger) error {
	start := time.Now()
	job.transition(StatePolling)

	pollCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	timedOut := func() error {
		return &TimeoutError{Elapsed: time.Since(start), Budget: o.timeout, Attempts: job.PollAttempts}
	}

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		job.PollAttempts = attempt
		status, err := o.api.PollStatus(pollCtx, job.Task.Server, job.Task.ID)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if pollCtx.Err() != nil {
				return timedOut()
			}
			if errors.Is(err, remote.ErrPermission) {
				return err
			}
			logger.Warn("status check failed", "attempt", attempt, "error", err)
		case status == remote.StatusReady:
			logger.Debug("remote output ready", "attempt", attempt, "elapsed", time.Since(start))
			return nil
		case status == remote.StatusAuthExpired:
			logger.Debug("token expired while polling, refreshing", "attempt", attempt)
			if err := o.api.RefreshToken(pollCtx); err != nil {
				logger.Warn("token refresh failed", "attempt", attempt, "error", err)
			}
		}

		if attempt == o.maxAttempts {
			break
		}
		select {
		case <-pollCtx.Done():
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return timedOut()
		case <-time.After(o.interval):
		}
	}

	return timedOut()
}

// OCR runs an OCR job with the given provider language code.
func (o *Orchestrator) OCR(ctx context.Context, file remote.File, language string) (*Result, error) {
	if language == "" {
		language = remote.DefaultLanguage
	}
	return o.Run(ctx, Request{
		Tool:    remote.ToolOCR,
		File:    file,
		Options: remote.ProcessOptions{Languages: []string{language}},
	})
}

// Compress runs a compression job at level.
func (o *Orchestrator) Compress(ctx context.Context, file remote.File, level string) (*Result, error) {
	if level == "" {
		level = remote.LevelRecommended
	}
	if !remote.ValidLevel(level) {
		return nil, fmt.Errorf("unknown compression level %q", level)
	}
	return o.Run(ctx, Request{
		Tool:    remote.ToolCompress,
		File:    file,
		Options: remote.ProcessOptions{CompressionLevel: level},
	})
}

// Progress receives coarse progress for chained jobs.
type Progress func(step string, percent int)

// ChainResult holds both halves of a compress-then-OCR run.
type ChainResult struct {
	Compress *Result
	OCR      *Result
}

// CompressThenOCR compresses file and runs OCR on the compressed output. A
// compressed artifact over the size limit aborts with *SizeLimitError before
// the OCR job starts.
func (o *Orchestrator) CompressThenOCR(ctx context.Context, file remote.File, level, language string, progress Progress) (*ChainResult, error) {
	if progress == nil {
		progress = func(string, int) {}
	}
	if level == "" {
		level = remote.LevelRecommended
	}

	progress("compressing", 0)
	compressed, err := o.Compress(ctx, file, level)
	if err != nil {
		return nil, fmt.Errorf("compression: %w", err)
	}
	progress("compressed", 50)

	if compressed.OutputSize > o.maxArtifactSize {
		return &ChainResult{Compress: compressed}, &SizeLimitError{
			OriginalSize:   compressed.InputSize,
			CompressedSize: compressed.OutputSize,
			Level:          level,
			Limit:          o.maxArtifactSize,
		}
	}

	progress("ocr", 50)
	ocr, err := o.OCR(ctx, remote.File{Name: file.Name, Data: compressed.Output}, language)
	if err != nil {
		return &ChainResult{Compress: compressed}, fmt.Errorf("ocr: %w", err)
	}
	progress("done", 100)

	return &ChainResult{Compress: compressed, OCR: ocr}, nil
}

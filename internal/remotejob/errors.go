package remotejob

import (
	"fmt"
	"time"

	"github.com/jackzampolin/stacks/internal/remote"
)

// StageError reports the stage at which a job failed.
type StageError struct {
	Tool     remote.Tool
	Stage    Stage
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s job failed at %s (attempt %d): %v", e.Tool, e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// TimeoutError is returned when the output is not ready within the poll budget.
type TimeoutError struct {
	Elapsed  time.Duration
	Budget   time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("remote processing did not finish after %s (%d status checks, budget %s)",
		e.Elapsed.Round(time.Second), e.Attempts, e.Budget)
}

// SizeLimitError is returned when a compressed artifact is still too large to
// ingest.
type SizeLimitError struct {
	OriginalSize   int64
	CompressedSize int64
	Level          string
	Limit          int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf(
		"compressed file is %.1f MB (original %.1f MB, level %q), over the %.0f MB limit; "+
			"try a stronger compression level, split the document, or continue without OCR",
		megabytes(e.CompressedSize), megabytes(e.OriginalSize), e.Level, megabytes(e.Limit))
}

func megabytes(n int64) float64 {
	return float64(n) / (1 << 20)
}

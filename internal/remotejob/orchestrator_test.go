package remotejob

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/stacks/internal/remote"
)

// fakeAPI is a scripted TaskAPI.
type fakeAPI struct {
	mu sync.Mutex

	startErr    error
	uploadErr   error
	submitErr   error
	downloadErr error
	// statuses are returned by successive polls; the last one repeats.
	statuses []remote.TaskStatus
	pollErrs []error
	// hangPolls makes every status check block until its context is done.
	hangPolls bool
	output   func(tool remote.Tool, input []byte) []byte

	tasks     int
	polls     int
	refreshes int
	deleted   []string
	submitted []remote.ProcessOptions
	uploads   map[string][]byte
}

func (f *fakeAPI) StartTask(ctx context.Context, tool remote.Tool) (*remote.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.tasks++
	return &remote.Task{Server: "srv", ID: string(tool) + "-" + strings.Repeat("x", f.tasks), RemainingCredits: 100}, nil
}

func (f *fakeAPI) UploadFile(ctx context.Context, server, task string, file remote.File) (*remote.UploadedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[task] = file.Data
	return &remote.UploadedFile{ServerFilename: "s-" + file.Name, Filename: file.Name}, nil
}

func (f *fakeAPI) SubmitProcessing(ctx context.Context, server, task string, tool remote.Tool, files []remote.UploadedFile, opts remote.ProcessOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, opts)
	return f.submitErr
}

func (f *fakeAPI) PollStatus(ctx context.Context, server, task string) (remote.TaskStatus, error) {
	f.mu.Lock()
	if f.hangPolls {
		f.polls++
		f.mu.Unlock()
		<-ctx.Done()
		return remote.StatusNotReady, ctx.Err()
	}
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if i < len(f.pollErrs) && f.pollErrs[i] != nil {
		return remote.StatusNotReady, f.pollErrs[i]
	}
	if len(f.statuses) == 0 {
		return remote.StatusReady, nil
	}
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return f.statuses[i], nil
}

func (f *fakeAPI) DownloadResult(ctx context.Context, server, task string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	input := f.uploads[task]
	if f.output != nil {
		tool := remote.ToolOCR
		if strings.HasPrefix(task, string(remote.ToolCompress)) {
			tool = remote.ToolCompress
		}
		return f.output(tool, input), nil
	}
	return append([]byte("processed:"), input...), nil
}

func (f *fakeAPI) DeleteTask(ctx context.Context, server, task string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, task)
}

func (f *fakeAPI) RefreshToken(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func testOrchestrator(api TaskAPI) *Orchestrator {
	return New(api, Config{PollInterval: time.Millisecond, Timeout: 120 * time.Millisecond})
}

func TestNew_MaxPollAttempts(t *testing.T) {
	o := New(&fakeAPI{}, Config{})
	if got := o.MaxPollAttempts(); got != 120 {
		t.Errorf("MaxPollAttempts() = %d, want 120", got)
	}
}

func TestOrchestrator_Run(t *testing.T) {
	api := &fakeAPI{statuses: []remote.TaskStatus{remote.StatusNotReady, remote.StatusNotReady, remote.StatusReady}}
	o := testOrchestrator(api)

	result, err := o.Run(context.Background(), Request{
		Tool: remote.ToolOCR,
		File: remote.File{Name: "a.pdf", Data: []byte("abc")},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(result.Output) != "processed:abc" {
		t.Errorf("Output = %q", result.Output)
	}
	if result.InputSize != 3 || result.OutputSize != int64(len("processed:abc")) {
		t.Errorf("sizes = %d/%d", result.InputSize, result.OutputSize)
	}
	if result.Job.PollAttempts != 3 {
		t.Errorf("PollAttempts = %d, want 3", result.Job.PollAttempts)
	}

	want := []State{StateUploaded, StateSubmitted, StatePolling, StateReady, StateDownloaded, StateCleaned}
	if len(result.Job.History) != len(want) {
		t.Fatalf("History = %+v", result.Job.History)
	}
	for i, s := range want {
		if result.Job.History[i].To != s {
			t.Errorf("History[%d].To = %s, want %s", i, result.Job.History[i].To, s)
		}
	}
	if len(api.deleted) != 1 {
		t.Errorf("DeleteTask calls = %d, want 1", len(api.deleted))
	}
}

func TestOrchestrator_CleanupAlwaysRuns(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		api       *fakeAPI
		wantStage Stage
	}{
		{name: "upload fails", api: &fakeAPI{uploadErr: boom}, wantStage: StageUpload},
		{name: "submit fails", api: &fakeAPI{submitErr: boom}, wantStage: StageSubmit},
		{name: "download fails", api: &fakeAPI{downloadErr: boom}, wantStage: StageDownload},
		{name: "poll times out", api: &fakeAPI{statuses: []remote.TaskStatus{remote.StatusNotReady}}, wantStage: StagePoll},
		{name: "permission lost while polling", api: &fakeAPI{pollErrs: []error{remote.ErrPermission}}, wantStage: StagePoll},
		{name: "succeeds", api: &fakeAPI{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOrchestrator(tt.api)
			_, err := o.Run(context.Background(), Request{Tool: remote.ToolCompress, File: remote.File{Name: "a.pdf"}})

			if tt.wantStage == "" {
				if err != nil {
					t.Fatalf("Run() error = %v", err)
				}
			} else {
				var stageErr *StageError
				if !errors.As(err, &stageErr) {
					t.Fatalf("Run() error = %v, want *StageError", err)
				}
				if stageErr.Stage != tt.wantStage {
					t.Errorf("Stage = %s, want %s", stageErr.Stage, tt.wantStage)
				}
			}
			if len(tt.api.deleted) != 1 {
				t.Errorf("DeleteTask calls = %d, want 1", len(tt.api.deleted))
			}
		})
	}
}

func TestOrchestrator_StartFailureHasNothingToClean(t *testing.T) {
	api := &fakeAPI{startErr: remote.ErrServer}
	_, err := testOrchestrator(api).Run(context.Background(), Request{Tool: remote.ToolOCR})
	if !errors.Is(err, remote.ErrServer) {
		t.Errorf("Run() error = %v, want ErrServer", err)
	}
	if len(api.deleted) != 0 {
		t.Errorf("DeleteTask calls = %d, want 0", len(api.deleted))
	}
}

func TestOrchestrator_PollBudget(t *testing.T) {
	api := &fakeAPI{statuses: []remote.TaskStatus{remote.StatusNotReady}}
	o := testOrchestrator(api)

	_, err := o.Run(context.Background(), Request{Tool: remote.ToolOCR})
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Run() error = %v, want *TimeoutError", err)
	}
	// Whichever of the attempt count and the deadline runs out first ends
	// polling.
	if timeout.Attempts < 1 || timeout.Attempts > 120 {
		t.Errorf("Attempts = %d, want 1..120", timeout.Attempts)
	}
	if api.polls != timeout.Attempts {
		t.Errorf("polls = %d, want %d", api.polls, timeout.Attempts)
	}
	if !strings.Contains(err.Error(), "did not finish after") {
		t.Errorf("error %q does not name the elapsed time", err)
	}
}

func TestOrchestrator_PollDeadlineAbortsHungCheck(t *testing.T) {
	api := &fakeAPI{hangPolls: true}
	o := New(api, Config{PollInterval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := o.Run(ctx, Request{Tool: remote.ToolOCR})
	elapsed := time.Since(start)

	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Run() error = %v, want *TimeoutError", err)
	}
	if timeout.Budget != 50*time.Millisecond || timeout.Attempts != 1 {
		t.Errorf("TimeoutError = %+v, want budget 50ms after 1 check", timeout)
	}
	if elapsed > time.Second {
		t.Errorf("Run() took %s, want the poll budget to end it", elapsed)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StagePoll {
		t.Errorf("Run() error = %v, want a poll StageError", err)
	}
	if len(api.deleted) != 1 {
		t.Errorf("DeleteTask calls = %d, want 1", len(api.deleted))
	}
}

func TestOrchestrator_AuthExpiredRefreshes(t *testing.T) {
	api := &fakeAPI{statuses: []remote.TaskStatus{remote.StatusAuthExpired, remote.StatusNotReady, remote.StatusReady}}
	result, err := testOrchestrator(api).Run(context.Background(), Request{Tool: remote.ToolOCR})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if api.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", api.refreshes)
	}
	if result.Job.PollAttempts != 3 {
		t.Errorf("PollAttempts = %d, want 3", result.Job.PollAttempts)
	}
}

func TestOrchestrator_TransientPollErrors(t *testing.T) {
	api := &fakeAPI{pollErrs: []error{remote.ErrServer, remote.ErrTransport}}
	result, err := testOrchestrator(api).Run(context.Background(), Request{Tool: remote.ToolOCR})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Job.PollAttempts != 3 {
		t.Errorf("PollAttempts = %d, want 3", result.Job.PollAttempts)
	}
}

func TestOrchestrator_CancelledStillCleansUp(t *testing.T) {
	api := &fakeAPI{statuses: []remote.TaskStatus{remote.StatusNotReady}}
	o := New(api, Config{PollInterval: time.Hour, Timeout: 2 * time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := o.Run(ctx, Request{Tool: remote.ToolOCR})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want DeadlineExceeded", err)
	}
	if len(api.deleted) != 1 {
		t.Errorf("DeleteTask calls = %d, want 1", len(api.deleted))
	}
}

func TestOrchestrator_Compress(t *testing.T) {
	api := &fakeAPI{}
	o := testOrchestrator(api)

	if _, err := o.Compress(context.Background(), remote.File{Name: "a.pdf"}, ""); err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if api.submitted[0].CompressionLevel != remote.LevelRecommended {
		t.Errorf("CompressionLevel = %q", api.submitted[0].CompressionLevel)
	}
	if _, err := o.Compress(context.Background(), remote.File{Name: "a.pdf"}, "maximum"); err == nil {
		t.Error("Compress() with unknown level should fail")
	}
}

func TestOrchestrator_CompressThenOCR(t *testing.T) {
	t.Run("chains compressed output into OCR", func(t *testing.T) {
		api := &fakeAPI{output: func(tool remote.Tool, input []byte) []byte {
			if tool == remote.ToolCompress {
				return []byte("small")
			}
			return append([]byte("ocr:"), input...)
		}}
		var steps []int
		result, err := testOrchestrator(api).CompressThenOCR(context.Background(),
			remote.File{Name: "a.pdf", Data: []byte("large-original")}, remote.LevelExtreme, "ces",
			func(step string, percent int) { steps = append(steps, percent) })
		if err != nil {
			t.Fatalf("CompressThenOCR() error = %v", err)
		}
		if string(result.OCR.Output) != "ocr:small" {
			t.Errorf("OCR output = %q, want ocr:small", result.OCR.Output)
		}
		if api.submitted[1].Languages[0] != "ces" {
			t.Errorf("OCR languages = %v", api.submitted[1].Languages)
		}
		if len(api.deleted) != 2 {
			t.Errorf("DeleteTask calls = %d, want 2", len(api.deleted))
		}
		if steps[len(steps)-1] != 100 {
			t.Errorf("progress = %v, want final 100", steps)
		}
	})

	t.Run("oversized compression aborts before OCR", func(t *testing.T) {
		api := &fakeAPI{output: func(tool remote.Tool, input []byte) []byte {
			return bytes.Repeat([]byte{0}, 60<<20)
		}}
		original := remote.File{Name: "big.pdf", Data: bytes.Repeat([]byte{1}, 80<<20)}
		result, err := testOrchestrator(api).CompressThenOCR(context.Background(), original, remote.LevelLow, "", nil)

		var sizeErr *SizeLimitError
		if !errors.As(err, &sizeErr) {
			t.Fatalf("CompressThenOCR() error = %v, want *SizeLimitError", err)
		}
		if sizeErr.CompressedSize != 60<<20 || sizeErr.OriginalSize != 80<<20 || sizeErr.Level != remote.LevelLow {
			t.Errorf("SizeLimitError = %+v", sizeErr)
		}
		msg := err.Error()
		for _, want := range []string{"60.0 MB", "80.0 MB", "50 MB", "stronger compression"} {
			if !strings.Contains(msg, want) {
				t.Errorf("error %q missing %q", msg, want)
			}
		}
		if result.OCR != nil {
			t.Error("OCR should not run")
		}
		if api.tasks != 1 {
			t.Errorf("tasks started = %d, want 1", api.tasks)
		}
	})
}

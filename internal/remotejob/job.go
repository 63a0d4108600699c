package remotejob

import (
	"time"

	"github.com/jackzampolin/stacks/internal/remote"
)

// State is a stage of a remote job.
type State string

const (
	StateCreated    State = "created"
	StateUploaded   State = "uploaded"
	StateSubmitted  State = "submitted"
	StatePolling    State = "polling"
	StateReady      State = "ready"
	StateDownloaded State = "downloaded"
	StateCleaned    State = "cleaned"
	StateFailed     State = "failed"
)

// Stage names the operation a job was performing.
type Stage string

const (
	StageStart    Stage = "start"
	StageUpload   Stage = "upload"
	StageSubmit   Stage = "submit"
	StagePoll     Stage = "poll"
	StageDownload Stage = "download"
)

// Transition records one state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Job tracks one remote task from start to cleanup.
type Job struct {
	Tool         remote.Tool  `json:"tool"`
	Task         *remote.Task `json:"task,omitempty"`
	State        State        `json:"state"`
	PollAttempts int          `json:"poll_attempts"`
	History      []Transition `json:"history"`
	// Err is the terminal error, if any. The job still ends Cleaned when a
	// task was obtained.
	Err error `json:"-"`

	// FailedStage is the stage in progress when the job failed.
	FailedStage Stage `json:"failed_stage,omitempty"`
}

func newJob(tool remote.Tool) *Job {
	return &Job{Tool: tool, State: StateCreated}
}

func (j *Job) transition(to State) {
	j.History = append(j.History, Transition{From: j.State, To: to, At: time.Now()})
	j.State = to
}

func (j *Job) fail(stage Stage, err error) {
	j.FailedStage = stage
	j.Err = err
	j.transition(StateFailed)
}

// Failed reports whether the job ended with an error.
func (j *Job) Failed() bool { return j.Err != nil }

// Visited reports whether the job passed through state s.
func (j *Job) Visited(s State) bool {
	for _, t := range j.History {
		if t.To == s {
			return true
		}
	}
	return false
}

package remote

import (
	"context"
	"time"
)

// APIStatus is the outcome of a service availability probe.
type APIStatus struct {
	Available        bool      `json:"available"`
	RemainingCredits int       `json:"remaining_credits,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
	Error            string    `json:"error,omitempty"`
}

// CheckStatus probes the service by authenticating and starting a throwaway
// compress task, which is then deleted. It never returns an error; failures
// are reported in the status.
func (c *Client) CheckStatus(ctx context.Context) APIStatus {
	status := APIStatus{CheckedAt: time.Now()}

	if _, err := c.tokens.Token(ctx, false); err != nil {
		status.Error = err.Error()
		return status
	}
	task, err := c.StartTask(ctx, ToolCompress)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	c.DeleteTask(context.WithoutCancel(ctx), task.Server, task.ID)

	status.Available = true
	status.RemainingCredits = task.RemainingCredits
	return status
}

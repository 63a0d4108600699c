package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/stacks/internal/api"
	"github.com/jackzampolin/stacks/internal/config"
	"github.com/jackzampolin/stacks/internal/remote"
	"github.com/jackzampolin/stacks/internal/svcctx"
)

// ProcessingResponse lists the documents held by the processing registry.
type ProcessingResponse struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}

// ProcessingEndpoint handles GET /api/processing.
type ProcessingEndpoint struct{}

func (e *ProcessingEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/processing", e.handler
}

func (e *ProcessingEndpoint) RequiresInit() bool { return true }

func (e *ProcessingEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	ids, err := svc.Processing(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ProcessingResponse{IDs: ids, Count: len(ids)})
}

func (e *ProcessingEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "processing",
		Short: "List documents with an operation in flight",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ProcessingResponse
			if err := client.Get(cmd.Context(), "/api/processing", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// RemoteStatusEndpoint handles GET /api/remote/status.
type RemoteStatusEndpoint struct{}

func (e *RemoteStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/remote/status", e.handler
}

func (e *RemoteStatusEndpoint) RequiresInit() bool { return true }

func (e *RemoteStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	status, err := svc.RemoteStatus(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (e *RemoteStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "remote",
		Short: "Check the remote processing API",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp remote.APIStatus
			if err := client.Get(cmd.Context(), "/api/remote/status", &resp); err != nil {
				return err
			}
			if !resp.Available {
				fmt.Fprintf(cmd.ErrOrStderr(), "remote API unavailable: %s\n", resp.Error)
			}
			return api.Output(resp)
		},
	}
}

// SettingsEndpoint handles GET /api/settings.
type SettingsEndpoint struct{}

func (e *SettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings", e.handler
}

func (e *SettingsEndpoint) RequiresInit() bool { return false }

// handler returns the loaded configuration with literal secrets masked.
func (e *SettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := svcctx.ConfigFrom(r.Context())
	if mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "config not loaded")
		return
	}
	writeJSON(w, http.StatusOK, mgr.Get().Redacted())
}

func (e *SettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the server's configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp config.Config
			if err := client.Get(cmd.Context(), "/api/settings", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/stacks/internal/api"
	"github.com/jackzampolin/stacks/internal/console"
	"github.com/jackzampolin/stacks/internal/ingest"
	"github.com/jackzampolin/stacks/internal/svcctx"
)

func documentPath(id, op string) string {
	return "/api/documents/" + url.PathEscape(id) + "/" + op
}

// ProcessEndpoint handles POST /api/documents/{id}/process.
type ProcessEndpoint struct{}

func (e *ProcessEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/process", e.handler
}

func (e *ProcessEndpoint) RequiresInit() bool { return true }

func (e *ProcessEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	var opts console.ProcessOptions
	if err := decodeBody(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	logger := svcctx.LoggerFrom(r.Context()).With("document_id", r.PathValue("id"))
	opts.Progress = func(step string, percent int) {
		logger.Debug("processing progress", "step", step, "percent", percent)
	}

	res, err := svc.Process(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *ProcessEndpoint) Command(getServerURL func() string) *cobra.Command {
	var opts console.ProcessOptions
	cmd := &cobra.Command{
		Use:   "process <id>",
		Short: "Compress and/or OCR a document file",
		Long: `Run remote compression, OCR or both on a document's file.

With both --compress and --ocr the file is compressed first and the
compressed output is OCRed. The stored file is replaced by the result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var res console.ProcessResult
			if err := client.Post(cmd.Context(), documentPath(args[0], "process"), opts, &res); err != nil {
				return err
			}
			return api.Output(res)
		},
	}
	cmd.Flags().BoolVar(&opts.Compress, "compress", false, "Compress the file")
	cmd.Flags().BoolVar(&opts.OCR, "ocr", false, "Add a text layer with OCR")
	cmd.Flags().StringVar(&opts.Language, "language", "", "OCR language name or code (default English)")
	cmd.Flags().StringVar(&opts.Level, "level", "", "Compression level: low, recommended, extreme")
	return cmd
}

// IngestEndpoint handles POST /api/documents/{id}/ingest.
type IngestEndpoint struct{}

func (e *IngestEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/ingest", e.handler
}

func (e *IngestEndpoint) RequiresInit() bool { return true }

// handler returns 200 with the reconciled result, including failed
// ingestions, and 202 for fire-and-forget submissions.
func (e *IngestEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	var opts console.IngestOptions
	if err := decodeBody(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := svc.Ingest(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Accepted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (e *IngestEndpoint) Command(getServerURL func() string) *cobra.Command {
	var opts console.IngestOptions
	var async bool
	cmd := &cobra.Command{
		Use:   "ingest <id>",
		Short: "Send a document to the ingestion webhook",
		Long: `Send a document to the ingestion webhook and record the outcome.

The document must have its required metadata (author, publication year,
publisher, summary, keywords, categories) unless --allow-incomplete is set.
PDFs over the configured page limit are held back until you confirm with
--skip-size-check.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if async {
				opts.Mode = ingest.ModeFireAndForget
			}
			client := api.NewClient(getServerURL())
			var res console.Result
			if err := client.Post(cmd.Context(), documentPath(args[0], "ingest"), opts, &res); err != nil {
				var se *api.ServerError
				if errors.As(err, &se) && se.Type == "large_pdf" {
					return fmt.Errorf("%w\nrerun with --skip-size-check to ingest anyway", err)
				}
				return err
			}
			return api.Output(res)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Do not wait for the webhook response")
	cmd.Flags().BoolVar(&opts.SkipSizeCheck, "skip-size-check", false, "Ingest PDFs over the page limit")
	cmd.Flags().BoolVar(&opts.TextOnly, "text-only", false, "Send extracted text instead of the file")
	cmd.Flags().BoolVar(&opts.AllowIncomplete, "allow-incomplete", false, "Skip the required metadata check")
	return cmd
}

// ResyncEndpoint handles POST /api/documents/{id}/resync.
type ResyncEndpoint struct{}

func (e *ResyncEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/resync", e.handler
}

func (e *ResyncEndpoint) RequiresInit() bool { return true }

func (e *ResyncEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	res, err := svc.Resync(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *ResyncEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "resync <id>",
		Short: "Send changed metadata of an ingested document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var res console.ResyncResult
			if err := client.Post(cmd.Context(), documentPath(args[0], "resync"), nil, &res); err != nil {
				return err
			}
			return api.Output(res)
		},
	}
}

// ClassifyRequest is the body for POST /api/documents/{id}/classify.
type ClassifyRequest struct {
	// Apply fills empty fields with the suggestion.
	Apply bool `json:"apply"`
}

// ClassifyEndpoint handles POST /api/documents/{id}/classify.
type ClassifyEndpoint struct{}

func (e *ClassifyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/classify", e.handler
}

func (e *ClassifyEndpoint) RequiresInit() bool { return true }

func (e *ClassifyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	var req ClassifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := svc.Classify(r.Context(), r.PathValue("id"), req.Apply)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *ClassifyEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req ClassifyRequest
	cmd := &cobra.Command{
		Use:   "classify <id>",
		Short: "Suggest metadata from the document text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var res console.ClassifyResult
			if err := client.Post(cmd.Context(), documentPath(args[0], "classify"), req, &res); err != nil {
				return err
			}
			return api.Output(res)
		},
	}
	cmd.Flags().BoolVar(&req.Apply, "apply", false, "Fill empty fields with the suggestion")
	return cmd
}

// DiffResponse previews a resync.
type DiffResponse struct {
	DocumentID string         `json:"document_id"`
	Changed    map[string]any `json:"changed"`
	Unchanged  bool           `json:"unchanged"`
}

// DiffEndpoint handles GET /api/documents/{id}/diff.
type DiffEndpoint struct{}

func (e *DiffEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}/diff", e.handler
}

func (e *DiffEndpoint) RequiresInit() bool { return true }

func (e *DiffEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	changed, err := svc.Diff(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DiffResponse{DocumentID: id, Changed: changed, Unchanged: changed == nil})
}

func (e *DiffEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <id>",
		Short: "Show metadata changed since the last ingestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp DiffResponse
			if err := client.Get(cmd.Context(), documentPath(args[0], "diff"), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

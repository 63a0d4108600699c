package endpoints

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/stacks/internal/api"
	"github.com/jackzampolin/stacks/internal/console"
	"github.com/jackzampolin/stacks/internal/ingest"
)

// maxBulkIDs bounds a single bulk request.
const maxBulkIDs = 500

// BulkRequest is the body for the bulk endpoints. Options is decoded into
// the operation's option type.
type BulkRequest[T any] struct {
	IDs     []string `json:"ids"`
	Options T        `json:"options"`
}

func (b *BulkRequest[T]) validate() error {
	if len(b.IDs) == 0 {
		return fmt.Errorf("ids is required")
	}
	if len(b.IDs) > maxBulkIDs {
		return fmt.Errorf("too many ids: %d (max %d)", len(b.IDs), maxBulkIDs)
	}
	seen := make(map[string]bool, len(b.IDs))
	for _, id := range b.IDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("ids must not be empty")
		}
		if seen[id] {
			return fmt.Errorf("duplicate id %q", id)
		}
		seen[id] = true
	}
	return nil
}

// decodeBulk reads and validates a bulk request, writing a 400 on failure.
func decodeBulk[T any](w http.ResponseWriter, r *http.Request) (*BulkRequest[T], bool) {
	var req BulkRequest[T]
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
}

// BulkIngestEndpoint handles POST /api/documents/bulk/ingest.
type BulkIngestEndpoint struct{}

func (e *BulkIngestEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/bulk/ingest", e.handler
}

func (e *BulkIngestEndpoint) RequiresInit() bool { return true }

func (e *BulkIngestEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	req, ok := decodeBulk[console.IngestOptions](w, r)
	if !ok {
		return
	}
	if _, err := ingest.ParseMode(string(req.Options.Mode)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, svc.BulkIngest(r.Context(), req.IDs, req.Options))
}

func (e *BulkIngestEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req BulkRequest[console.IngestOptions]
	var async bool
	cmd := &cobra.Command{
		Use:   "ingest <id>...",
		Short: "Ingest several documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.IDs = args
			if async {
				req.Options.Mode = ingest.ModeFireAndForget
			}
			client := api.NewClient(getServerURL())
			var res console.BulkResult[*console.Result]
			if err := client.Post(cmd.Context(), "/api/documents/bulk/ingest", req, &res); err != nil {
				return err
			}
			return api.Output(res)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Do not wait for the webhook responses")
	cmd.Flags().BoolVar(&req.Options.SkipSizeCheck, "skip-size-check", false, "Ingest PDFs over the page limit")
	cmd.Flags().BoolVar(&req.Options.TextOnly, "text-only", false, "Send extracted text instead of files")
	cmd.Flags().BoolVar(&req.Options.AllowIncomplete, "allow-incomplete", false, "Skip the required metadata check")
	return cmd
}

// BulkProcessEndpoint handles POST /api/documents/bulk/process.
type BulkProcessEndpoint struct{}

func (e *BulkProcessEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/bulk/process", e.handler
}

func (e *BulkProcessEndpoint) RequiresInit() bool { return true }

func (e *BulkProcessEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	req, ok := decodeBulk[console.ProcessOptions](w, r)
	if !ok {
		return
	}
	if !req.Options.Compress && !req.Options.OCR {
		writeError(w, http.StatusBadRequest, "nothing to do, enable compress or ocr")
		return
	}
	writeJSON(w, http.StatusOK, svc.BulkProcess(r.Context(), req.IDs, req.Options))
}

func (e *BulkProcessEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req BulkRequest[console.ProcessOptions]
	cmd := &cobra.Command{
		Use:   "process <id>...",
		Short: "Compress and/or OCR several documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.IDs = args
			client := api.NewClient(getServerURL())
			var res console.BulkResult[*console.ProcessResult]
			if err := client.Post(cmd.Context(), "/api/documents/bulk/process", req, &res); err != nil {
				return err
			}
			return api.Output(res)
		},
	}
	cmd.Flags().BoolVar(&req.Options.Compress, "compress", false, "Compress the files")
	cmd.Flags().BoolVar(&req.Options.OCR, "ocr", false, "Add a text layer with OCR")
	cmd.Flags().StringVar(&req.Options.Language, "language", "", "OCR language name or code")
	cmd.Flags().StringVar(&req.Options.Level, "level", "", "Compression level: low, recommended, extreme")
	return cmd
}

// BulkResyncEndpoint handles POST /api/documents/bulk/resync.
type BulkResyncEndpoint struct{}

func (e *BulkResyncEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/bulk/resync", e.handler
}

func (e *BulkResyncEndpoint) RequiresInit() bool { return true }

func (e *BulkResyncEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc, ok := consoleFrom(w, r)
	if !ok {
		return
	}
	req, ok := decodeBulk[struct{}](w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, svc.BulkResync(r.Context(), req.IDs))
}

func (e *BulkResyncEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "resync <id>...",
		Short: "Send changed metadata for several documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var res console.BulkResult[*console.ResyncResult]
			req := BulkRequest[struct{}]{IDs: args}
			if err := client.Post(cmd.Context(), "/api/documents/bulk/resync", req, &res); err != nil {
				return err
			}
			return api.Output(res)
		},
	}
}

package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jackzampolin/stacks/internal/blob"
	"github.com/jackzampolin/stacks/internal/classify"
	"github.com/jackzampolin/stacks/internal/console"
	"github.com/jackzampolin/stacks/internal/ingest"
	"github.com/jackzampolin/stacks/internal/library"
	"github.com/jackzampolin/stacks/internal/registry"
	"github.com/jackzampolin/stacks/internal/remote"
	"github.com/jackzampolin/stacks/internal/remotejob"
	"github.com/jackzampolin/stacks/internal/svcctx"
	"github.com/jackzampolin/stacks/internal/textextract"
)

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeServiceError writes err with a status chosen by its kind.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		svcctx.LoggerFrom(r.Context()).Warn("request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Type: console.ErrorType(err)})
}

func statusFor(err error) int {
	var (
		largePDF  *ingest.LargePDFWarning
		missing   *library.MissingMetadataError
		sizeLimit *remotejob.SizeLimitError
		ingestTO  *ingest.TimeoutError
		jobTO     *remotejob.TimeoutError
		parseErr  *ingest.ParseError
		httpErr   *ingest.HTTPError
		apiErr    *remote.APIError
	)
	switch {
	case errors.Is(err, library.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, console.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrAlreadyProcessing),
		errors.As(err, &largePDF),
		errors.Is(err, console.ErrNotIngested):
		return http.StatusConflict
	case errors.As(err, &missing),
		errors.As(err, &sizeLimit),
		errors.Is(err, textextract.ErrNoText),
		errors.Is(err, console.ErrNoFile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, console.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &ingestTO), errors.As(err, &jobTO), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr), errors.As(err, &parseErr), errors.As(err, &httpErr),
		errors.Is(err, classify.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// consoleFrom returns the console service or writes a 503.
func consoleFrom(w http.ResponseWriter, r *http.Request) (*console.Service, bool) {
	svc := svcctx.ConsoleFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "console service not initialized")
		return nil, false
	}
	return svc, true
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// unchanged.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

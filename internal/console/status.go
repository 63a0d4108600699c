package console

import (
	"context"
	"errors"

	"github.com/jackzampolin/stacks/internal/blob"
	"github.com/jackzampolin/stacks/internal/ingest"
	"github.com/jackzampolin/stacks/internal/library"
	"github.com/jackzampolin/stacks/internal/registry"
	"github.com/jackzampolin/stacks/internal/remote"
	"github.com/jackzampolin/stacks/internal/remotejob"
	"github.com/jackzampolin/stacks/internal/textextract"
)

// Processing lists the ids of documents currently locked by an operation.
func (s *Service) Processing(ctx context.Context) ([]string, error) {
	return s.registry.Active(ctx)
}

// RemoteStatus probes the remote processing API.
func (s *Service) RemoteStatus(ctx context.Context) (remote.APIStatus, error) {
	checker := s.current().Remote
	if checker == nil {
		return remote.APIStatus{}, unavailable("remote processing")
	}
	return checker.CheckStatus(ctx), nil
}

// ErrorType groups err into the short name used by metrics and API error
// responses.
func ErrorType(err error) string {
	var (
		largePDF    *ingest.LargePDFWarning
		ingestTO    *ingest.TimeoutError
		parseErr    *ingest.ParseError
		httpErr     *ingest.HTTPError
		jobTO       *remotejob.TimeoutError
		sizeLimit   *remotejob.SizeLimitError
		missingMeta *library.MissingMetadataError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &largePDF):
		return "large_pdf"
	case errors.As(err, &sizeLimit):
		return "size_limit"
	case errors.As(err, &ingestTO), errors.As(err, &jobTO), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &httpErr):
		return "webhook_http"
	case errors.As(err, &missingMeta):
		return "missing_metadata"
	case errors.Is(err, registry.ErrAlreadyProcessing):
		return "already_processing"
	case errors.Is(err, textextract.ErrNoText):
		return "no_text"
	case errors.Is(err, remote.ErrAuth):
		return "auth"
	case errors.Is(err, remote.ErrPermission):
		return "permission"
	case errors.Is(err, remote.ErrRequest):
		return "request"
	case errors.Is(err, remote.ErrServer):
		return "server"
	case errors.Is(err, remote.ErrTransport):
		return "transport"
	case errors.Is(err, library.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNoFile):
		return "no_file"
	case errors.Is(err, ErrNotIngested):
		return "not_ingested"
	case errors.Is(err, ErrInvalidOptions):
		return "invalid"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// Capabilities reports which optional collaborators are configured.
type Capabilities struct {
	RemoteProcessing bool `json:"remote_processing"`
	Ingestion        bool `json:"ingestion"`
	TextExtraction   bool `json:"text_extraction"`
	Classifier       bool `json:"classifier"`
	BlobStore        bool `json:"blob_store"`
}

// Capabilities returns the currently configured collaborators.
func (s *Service) Capabilities() Capabilities {
	c := s.current()
	return Capabilities{
		RemoteProcessing: c.Processor != nil,
		Ingestion:        c.Submitter != nil,
		TextExtraction:   s.extractor != nil,
		Classifier:       s.classifier != nil,
		BlobStore:        s.blobs != nil,
	}
}

// Package ingest submits documents to the ingestion webhook, which writes
// them into the downstream search and retrieval stores.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/stacks/internal/library"
)

const (
	DefaultWaitTimeout = 5 * time.Minute
	DefaultMaxPDFPages = 1000
	maxErrorBody       = 500
)

// Mode selects how Submit treats the webhook response.
type Mode string

const (
	// ModeWait waits for and decodes the webhook response.
	ModeWait Mode = "wait"
	// ModeFireAndForget returns as soon as the request is dispatched.
	ModeFireAndForget Mode = "fire_and_forget"
)

// ParseMode parses a mode name; empty means ModeWait.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeWait:
		return ModeWait, nil
	case ModeFireAndForget, "async":
		return ModeFireAndForget, nil
	}
	return "", fmt.Errorf("unknown ingestion mode %q", s)
}

// Options control one submission.
type Options struct {
	Mode          Mode
	SkipSizeCheck bool
	// OnComplete receives the outcome of a fire-and-forget submission once
	// the webhook has answered or failed. It runs on the background goroutine
	// with a context detached from the caller, before Wait returns.
	OnComplete func(ctx context.Context, resp *Response, err error)
}

// Submission is the outcome of Submit. In fire-and-forget mode only Accepted
// is set; in wait mode Response holds the decoded reply.
type Submission struct {
	Accepted bool
	Response *Response
}

// Config configures a Coordinator.
type Config struct {
	WebhookURL         string
	MetadataWebhookURL string
	WaitTimeout        time.Duration
	MaxPDFPages        int
	HTTPClient         *http.Client
	Pages              PageCounter
	Logger             *slog.Logger
}

// Coordinator sends documents to the ingestion webhook.
type Coordinator struct {
	webhookURL         string
	metadataWebhookURL string
	waitTimeout        time.Duration
	maxPDFPages        int
	httpClient         *http.Client
	pages              PageCounter
	logger             *slog.Logger

	inflight sync.WaitGroup
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.MaxPDFPages <= 0 {
		cfg.MaxPDFPages = DefaultMaxPDFPages
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Pages == nil {
		cfg.Pages = PDFPageCounter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		webhookURL:         cfg.WebhookURL,
		metadataWebhookURL: cfg.MetadataWebhookURL,
		waitTimeout:        cfg.WaitTimeout,
		maxPDFPages:        cfg.MaxPDFPages,
		httpClient:         cfg.HTTPClient,
		pages:              cfg.Pages,
		logger:             cfg.Logger,
	}
}

// Submit sends doc and its artifact to the webhook.
//
// PDFs over the page limit return *LargePDFWarning unless SkipSizeCheck is
// set. In wait mode the call is bounded by the wait timeout and a reply that
// cannot be decoded returns *ParseError. Fire-and-forget never fails after
// the payload is built; the delivery outcome goes to Options.OnComplete.
func (c *Coordinator) Submit(ctx context.Context, doc *library.Document, art Artifact, opts Options) (*Submission, error) {
	if c.webhookURL == "" {
		return nil, errors.New("ingestion webhook URL is not configured")
	}
	logger := c.logger.With("document_id", doc.ID)

	if !opts.SkipSizeCheck && !art.TextOnly && doc.IsPDF() {
		pages, err := c.pages.PageCount(ctx, art.Data)
		switch {
		case err != nil:
			logger.Warn("could not count PDF pages, skipping size check", "error", err)
		case pages > c.maxPDFPages:
			return nil, &LargePDFWarning{PageCount: pages, Limit: c.maxPDFPages, Document: doc}
		}
	}

	payload, err := BuildPayload(doc, art)
	if err != nil {
		return nil, err
	}

	if opts.Mode == ModeFireAndForget {
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			detached := context.WithoutCancel(ctx)
			resp, err := c.deliver(detached, payload)
			if err != nil {
				logger.Warn("background ingestion failed", "error", err)
			} else {
				logger.Debug("background ingestion delivered")
			}
			if opts.OnComplete != nil {
				opts.OnComplete(detached, resp, err)
			}
		}()
		logger.Info("ingestion submitted", "mode", ModeFireAndForget)
		return &Submission{Accepted: true}, nil
	}

	resp, err := c.deliver(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &Submission{Response: resp}, nil
}

// deliver posts the payload within the wait timeout and decodes the reply.
func (c *Coordinator) deliver(ctx context.Context, payload *Payload) (*Response, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()
	body, err := c.post(waitCtx, c.webhookURL, payload.ContentType, payload.Body)
	if err != nil {
		if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Budget: c.waitTimeout}
		}
		return nil, err
	}
	return DecodeResponse(body)
}

// Wait blocks until fire-and-forget submissions have finished.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

type metadataUpdate struct {
	Action     string         `json:"action"`
	DocumentID string         `json:"documentId"`
	Metadata   map[string]any `json:"metadata"`
}

// UpdateMetadata sends changed fields to the metadata webhook.
func (c *Coordinator) UpdateMetadata(ctx context.Context, documentID string, changed map[string]any) error {
	if c.metadataWebhookURL == "" {
		return errors.New("metadata webhook URL is not configured")
	}
	body, err := json.Marshal(metadataUpdate{
		Action:     "update_metadata",
		DocumentID: documentID,
		Metadata:   changed,
	})
	if err != nil {
		return fmt.Errorf("failed to encode metadata update: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()
	if _, err := c.post(ctx, c.metadataWebhookURL, "application/json", body); err != nil {
		return fmt.Errorf("metadata update for %s: %w", documentID, err)
	}
	return nil
}

func (c *Coordinator) post(ctx context.Context, url, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(bytes.TrimSpace(respBody))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: text}
	}
	return respBody, nil
}

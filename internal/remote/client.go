// Package remote is a client for the asynchronous document-processing API
// that performs OCR and compression.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	DefaultBaseURL      = "https://api.ilovepdf.com/v1"
	DefaultRegion       = "eu"
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 2 * time.Second
	DefaultRequestLimit = 10 * time.Minute
)

// Tool is a remote processing tool.
type Tool string

const (
	ToolOCR      Tool = "pdfocr"
	ToolCompress Tool = "compress"
)

// Compression levels accepted by the compress tool.
const (
	LevelLow         = "low"
	LevelRecommended = "recommended"
	LevelExtreme     = "extreme"
)

// ValidLevel reports whether level is a known compression level.
func ValidLevel(level string) bool {
	switch level {
	case LevelLow, LevelRecommended, LevelExtreme:
		return true
	}
	return false
}

// Task is a started remote task.
type Task struct {
	Server           string `json:"server"`
	ID               string `json:"task"`
	RemainingCredits int    `json:"remaining_credits"`
}

// File is an artifact sent to or received from the remote API.
type File struct {
	Name string
	Data []byte
}

// UploadedFile identifies a file stored on a task server.
type UploadedFile struct {
	ServerFilename string `json:"server_filename"`
	Filename       string `json:"filename"`
}

// ProcessOptions carries tool-specific parameters.
type ProcessOptions struct {
	// Languages are OCR language codes (pdfocr).
	Languages []string
	// CompressionLevel is one of the Level constants (compress).
	CompressionLevel string
}

// TaskStatus is the result of a status poll.
type TaskStatus int

const (
	StatusNotReady TaskStatus = iota
	StatusReady
	StatusAuthExpired
)

func (s TaskStatus) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusAuthExpired:
		return "auth_expired"
	default:
		return "not_ready"
	}
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	PublicKey string
	Region    string
	// ServerScheme is the scheme used for task servers (https unless testing).
	ServerScheme      string
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerMinute int
	Timeout           time.Duration
	HTTPClient        *http.Client
	// Tokens overrides the default TokenCache.
	Tokens TokenSource
	Logger *slog.Logger
}

// Client performs remote task operations with a shared retry policy.
type Client struct {
	baseURL    string
	region     string
	scheme     string
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
	tokens     TokenSource
	limiter    *RateLimiter
	logger     *slog.Logger
}

// NewClient creates a remote API client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.ServerScheme == "" {
		cfg.ServerScheme = "https"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestLimit
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Tokens == nil {
		cfg.Tokens = NewTokenCache(TokenConfig{
			BaseURL:    baseURL,
			PublicKey:  cfg.PublicKey,
			HTTPClient: cfg.HTTPClient,
			Logger:     cfg.Logger,
		})
	}

	return &Client{
		baseURL:    baseURL,
		region:     cfg.Region,
		scheme:     cfg.ServerScheme,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		httpClient: cfg.HTTPClient,
		tokens:     cfg.Tokens,
		limiter:    NewRateLimiter(cfg.RequestsPerMinute),
		logger:     cfg.Logger,
	}
}

// RefreshToken forces a new bearer token.
func (c *Client) RefreshToken(ctx context.Context) error {
	_, err := c.tokens.Token(ctx, true)
	return err
}

// Limiter returns the client's rate limiter (nil when unlimited).
func (c *Client) Limiter() *RateLimiter { return c.limiter }

// StartTask starts a task for tool and returns its server and id.
func (c *Client) StartTask(ctx context.Context, tool Tool) (*Task, error) {
	url := fmt.Sprintf("%s/start/%s/%s", c.baseURL, tool, c.region)
	resp, err := c.call(ctx, "start "+string(tool), callOpts{}, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(resp.body, &task); err != nil {
		return nil, fmt.Errorf("start %s: failed to decode response: %w", tool, err)
	}
	if task.Server == "" || task.ID == "" {
		return nil, fmt.Errorf("start %s: response missing server or task id", tool)
	}
	return &task, nil
}

// UploadFile uploads file to the task and returns the server-side filename.
func (c *Client) UploadFile(ctx context.Context, server, task string, file File) (*UploadedFile, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("task", task); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	part, err := w.CreateFormFile("file", file.Name)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	payload := buf.Bytes()
	contentType := w.FormDataContentType()

	url := c.serverURL(server, "/upload")
	resp, err := c.call(ctx, "upload", callOpts{}, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var uploaded UploadedFile
	if err := json.Unmarshal(resp.body, &uploaded); err != nil {
		return nil, fmt.Errorf("upload: failed to decode response: %w", err)
	}
	if uploaded.ServerFilename == "" {
		return nil, errors.New("upload: response missing server_filename")
	}
	uploaded.Filename = file.Name
	return &uploaded, nil
}

type processRequest struct {
	Task             string         `json:"task"`
	Tool             Tool           `json:"tool"`
	Files            []UploadedFile `json:"files"`
	OCRLanguages     []string       `json:"ocr_languages,omitempty"`
	CompressionLevel string         `json:"compression_level,omitempty"`
}

// SubmitProcessing asks the task server to process the uploaded files.
func (c *Client) SubmitProcessing(ctx context.Context, server, task string, tool Tool, files []UploadedFile, opts ProcessOptions) error {
	body := processRequest{Task: task, Tool: tool, Files: files}
	switch tool {
	case ToolOCR:
		body.OCRLanguages = opts.Languages
		if len(body.OCRLanguages) == 0 {
			body.OCRLanguages = []string{DefaultLanguage}
		}
	case ToolCompress:
		body.CompressionLevel = opts.CompressionLevel
		if body.CompressionLevel == "" {
			body.CompressionLevel = LevelRecommended
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}

	url := c.serverURL(server, "/process")
	_, err = c.call(ctx, "process", callOpts{}, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	return err
}

// PollStatus checks whether the task output is ready. HTTP 400 means the
// task is still processing and 401 means the token expired; neither is an
// error here.
func (c *Client) PollStatus(ctx context.Context, server, task string) (TaskStatus, error) {
	url := c.serverURL(server, "/download/"+task)
	opts := callOpts{
		noAuthRefresh: true,
		accept: func(status int) bool {
			return status == http.StatusOK ||
				status == http.StatusBadRequest ||
				status == http.StatusUnauthorized
		},
	}
	resp, err := c.call(ctx, "poll", opts, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	})
	if err != nil {
		return StatusNotReady, err
	}
	switch resp.status {
	case http.StatusOK:
		return StatusReady, nil
	case http.StatusUnauthorized:
		return StatusAuthExpired, nil
	default:
		return StatusNotReady, nil
	}
}

// DownloadResult fetches the processed artifact.
func (c *Client) DownloadResult(ctx context.Context, server, task string) ([]byte, error) {
	url := c.serverURL(server, "/download/"+task)
	resp, err := c.call(ctx, "download", callOpts{}, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

// DeleteTask removes the task from the remote server. Failures are logged and
// never returned.
func (c *Client) DeleteTask(ctx context.Context, server, task string) {
	url := c.serverURL(server, "/task/"+task)
	_, err := c.call(ctx, "delete", callOpts{attempts: 1}, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	})
	if err != nil {
		c.logger.Warn("remote task cleanup failed", "task", task, "server", server, "error", err)
		return
	}
	c.logger.Debug("remote task deleted", "task", task)
}

func (c *Client) serverURL(server, path string) string {
	return fmt.Sprintf("%s://%s/v1%s", c.scheme, server, path)
}

type response struct {
	status int
	body   []byte
}

type callOpts struct {
	// accept reports which statuses count as success. Defaults to 2xx.
	accept func(status int) bool
	// noAuthRefresh returns 401 to accept instead of refreshing the token.
	noAuthRefresh bool
	// attempts overrides the client's retry budget.
	attempts int
}

// call sends the request built by newReq under the retry policy. A 401
// triggers at most one forced token refresh per call, and that re-issue does
// not consume an attempt.
func (c *Client) call(ctx context.Context, op string, opts callOpts, newReq func(context.Context) (*http.Request, error)) (*response, error) {
	accept := opts.accept
	if accept == nil {
		accept = func(status int) bool { return status >= 200 && status < 300 }
	}
	attempts := opts.attempts
	if attempts <= 0 {
		attempts = c.maxRetries
	}

	var (
		result    *response
		tries     int
		refreshed bool
	)
	err := retry.Do(
		func() error {
			tries++
			resp, err := c.send(ctx, op, newReq)
			if err != nil {
				return err
			}
			if resp.status == http.StatusUnauthorized && !opts.noAuthRefresh && !refreshed {
				refreshed = true
				c.logger.Debug("remote token rejected, refreshing", "op", op)
				if _, err := c.tokens.Token(ctx, true); err != nil {
					return authError(op, err)
				}
				if resp, err = c.send(ctx, op, newReq); err != nil {
					return err
				}
			}
			if !accept(resp.status) {
				return statusError(op, resp.status, resp.body)
			}
			result = resp
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.DelayType(c.backoff),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("remote call failed, retrying", "op", op, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.Attempts = tries
		}
		return nil, err
	}
	return result, nil
}

// backoff is linear in the retry number (n starts at 1); server faults wait
// twice as long.
func (c *Client) backoff(n uint, err error, _ *retry.Config) time.Duration {
	delay := c.retryDelay * time.Duration(max(n, 1))
	if errors.Is(err, ErrServer) {
		delay *= 2
	}
	return delay
}

func (c *Client) send(ctx context.Context, op string, newReq func(context.Context) (*http.Request, error)) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transportError(op, err)
	}
	token, err := c.tokens.Token(ctx, false)
	if err != nil {
		return nil, authError(op, err)
	}

	req, err := newReq(ctx)
	if err != nil {
		return nil, &APIError{Op: op, Err: err, kind: ErrRequest}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(op, fmt.Errorf("failed to read response: %w", err))
	}
	return &response{status: resp.StatusCode, body: body}, nil
}

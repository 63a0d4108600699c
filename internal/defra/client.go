package defra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ErrUnhealthy is returned when the DefraDB health check fails.
var ErrUnhealthy = errors.New("defra health check failed")

// DefaultTimeout bounds a single GraphQL round trip.
const DefaultTimeout = 30 * time.Second

// Client talks to DefraDB over its HTTP GraphQL API.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a client for the DefraDB node at url.
func NewClient(url string) *Client {
	return NewClientWithConfig(ClientConfig{URL: url})
}

// NewClientWithConfig creates a client from cfg.
func NewClientWithConfig(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		url:        strings.TrimSuffix(cfg.URL, "/"),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// URL returns the node address the client talks to.
func (c *Client) URL() string {
	return c.url
}

// GQLRequest is a GraphQL request body.
type GQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// GQLResponse is a GraphQL response body.
type GQLResponse struct {
	Data   map[string]any `json:"data,omitempty"`
	Errors []GQLError     `json:"errors,omitempty"`
}

// GQLError is one entry of a GraphQL errors array.
type GQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// Error returns the first error message, or "" when the response has none.
func (r *GQLResponse) Error() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// Documents returns the list stored under key in the response data.
func (r *GQLResponse) Documents(key string) []map[string]any {
	raw, _ := r.Data[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// HealthCheck returns nil when the node answers its health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health-check", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

// Execute sends a GraphQL request. GraphQL-level errors are returned in
// the response; only transport and server failures produce an error.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any) (*GQLResponse, error) {
	body, err := json.Marshal(GQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/v0/graphql", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("defra server error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if len(respBody) == 0 {
		return nil, fmt.Errorf("defra returned empty response (status %d)", resp.StatusCode)
	}

	var gql GQLResponse
	if err := json.Unmarshal(respBody, &gql); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &gql, nil
}

// AddSchema registers a GraphQL SDL document with the node.
func (c *Client) AddSchema(ctx context.Context, sdl string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/v0/schema", strings.NewReader(sdl))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("schema error (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// Create inserts one document and returns its _docID.
func (c *Client) Create(ctx context.Context, collection string, input map[string]any) (string, error) {
	ids, err := c.CreateMany(ctx, collection, []map[string]any{input})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// CreateMany inserts documents in one mutation and returns their ids. The
// node does not guarantee that ids come back in input order.
func (c *Client) CreateMany(ctx context.Context, collection string, inputs []map[string]any) ([]string, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	parts := make([]string, 0, len(inputs))
	for _, input := range inputs {
		gql, err := inputLiteral(input)
		if err != nil {
			return nil, fmt.Errorf("failed to build input: %w", err)
		}
		parts = append(parts, gql)
	}

	mutation := fmt.Sprintf(`mutation { create_%s(input: [%s]) { _docID } }`, collection, strings.Join(parts, ", "))
	resp, err := c.Execute(ctx, mutation, nil)
	if err != nil {
		return nil, err
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("create error: %s", msg)
	}

	docs := resp.Documents("create_" + collection)
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if id, ok := doc["_docID"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) != len(inputs) {
		return ids, fmt.Errorf("created %d documents, expected %d", len(ids), len(inputs))
	}
	return ids, nil
}

// Update patches the given fields of one document.
func (c *Client) Update(ctx context.Context, collection, docID string, input map[string]any) error {
	if err := ValidateID(docID); err != nil {
		return err
	}
	gql, err := inputLiteral(input)
	if err != nil {
		return fmt.Errorf("failed to build input: %w", err)
	}
	mutation := fmt.Sprintf(`mutation { update_%s(docID: %q, input: %s) { _docID } }`, collection, docID, gql)

	resp, err := c.Execute(ctx, mutation, nil)
	if err != nil {
		return err
	}
	if msg := resp.Error(); msg != "" {
		return fmt.Errorf("update error: %s", msg)
	}
	return nil
}

// Delete removes one document.
func (c *Client) Delete(ctx context.Context, collection, docID string) error {
	if err := ValidateID(docID); err != nil {
		return err
	}
	mutation := fmt.Sprintf(`mutation { delete_%s(docID: %q) { _docID } }`, collection, docID)

	resp, err := c.Execute(ctx, mutation, nil)
	if err != nil {
		return err
	}
	if msg := resp.Error(); msg != "" {
		return fmt.Errorf("delete error: %s", msg)
	}
	return nil
}

// inputLiteral renders a map as a GraphQL input object literal.
func inputLiteral(input map[string]any) (string, error) {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := valueLiteral(input[k])
		if err != nil {
			return "", fmt.Errorf("field %q: %w", k, err)
		}
		parts = append(parts, k+": "+v)
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}

func valueLiteral(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		// JSON string escapes are a subset of what GraphQL accepts; %q is not.
		b, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case int, int32, int64, float32, float64, bool:
		return fmt.Sprint(val), nil
	case []string:
		items := make([]string, 0, len(val))
		for _, s := range val {
			lit, err := valueLiteral(s)
			if err != nil {
				return "", err
			}
			items = append(items, lit)
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			lit, err := valueLiteral(item)
			if err != nil {
				return "", err
			}
			items = append(items, lit)
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	case map[string]any:
		return inputLiteral(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("unsupported value %T: %w", v, err)
		}
		return string(b), nil
	}
}

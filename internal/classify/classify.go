// Package classify suggests document metadata from extracted text using an
// OpenAI structured-output model.
package classify

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/stacks/internal/library"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultMaxText = 12000
)

// ErrUpstream marks failures of the model API, as opposed to invalid
// output.
var ErrUpstream = errors.New("classifier request failed")

//go:embed schema.json
var schemaJSON []byte

const systemPrompt = `You catalogue documents for a library. From the text excerpt, extract bibliographic metadata.
Use an empty string, 0 or an empty list when a value cannot be determined. Keep the summary under 600 characters.
Write the summary and keywords in the document's language. Return only JSON matching the schema.`

// Classifier suggests metadata for a document.
type Classifier interface {
	Classify(ctx context.Context, text string) (*library.Fields, error)
}

// Config configures an OpenAI classifier.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries int
	Timeout    time.Duration
	// MaxText truncates the excerpt sent to the model.
	MaxText    int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OpenAI classifies with chat completions constrained by a JSON schema.
type OpenAI struct {
	client  openai.Client
	model   string
	maxText int
	schema  *jsonschema.Schema
	// modelSchema is the schema sent with requests, without bounds keywords
	// that strict structured output rejects.
	modelSchema map[string]any
	logger      *slog.Logger
}

// New creates an OpenAI classifier.
func New(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("classifier API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxText <= 0 {
		cfg.MaxText = DefaultMaxText
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	var modelSchema map[string]any
	if err := json.Unmarshal(schemaJSON, &modelSchema); err != nil {
		return nil, fmt.Errorf("invalid metadata schema: %w", err)
	}
	stripBounds(modelSchema)

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxText:     cfg.MaxText,
		schema:      schema,
		modelSchema: modelSchema,
		logger:      cfg.Logger,
	}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to load metadata schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile metadata schema: %w", err)
	}
	return schema, nil
}

// Classify implements Classifier.
func (c *OpenAI) Classify(ctx context.Context, text string) (*library.Fields, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("no text to classify")
	}
	if len(text) > c.maxText {
		text = text[:c.maxText]
	}

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "document_metadata",
					Schema: c.modelSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("classifier returned no choices")
	}

	fields, err := c.Parse(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("document classified",
		"model", c.model,
		"duration", time.Since(start),
		"prompt_tokens", completion.Usage.PromptTokens,
		"completion_tokens", completion.Usage.CompletionTokens)
	return fields, nil
}

// Parse validates model output against the schema and decodes it.
func (c *OpenAI) Parse(content string) (*library.Fields, error) {
	content = stripCodeFences(strings.TrimSpace(content))
	if content == "" {
		return nil, errors.New("classifier returned empty output")
	}

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("classifier output is not JSON: %w", err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("classifier output does not match schema: %w", err)
	}

	var fields library.Fields
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode classifier output: %w", err)
	}
	return &fields, nil
}

// stripBounds removes numeric and length bounds; they are still enforced by
// local validation.
func stripBounds(node any) {
	switch n := node.(type) {
	case map[string]any:
		for _, k := range []string{"minimum", "maximum", "maxLength", "maxItems"} {
			delete(n, k)
		}
		for _, v := range n {
			stripBounds(v)
		}
	case []any:
		for _, v := range n {
			stripBounds(v)
		}
	}
}

func stripCodeFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("%w (status %d): %s", ErrUpstream, apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("%w (status %d)", ErrUpstream, apiErr.StatusCode)
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

// Merge fills empty fields of dst with values from suggestion and returns
// the names of fields it filled.
func Merge(dst *library.Fields, suggestion *library.Fields) []string {
	var filled []string
	setString := func(name string, d *string, s string) {
		if strings.TrimSpace(*d) == "" && strings.TrimSpace(s) != "" {
			*d = s
			filled = append(filled, name)
		}
	}
	setList := func(name string, d *[]string, s []string) {
		if len(*d) == 0 && len(s) > 0 {
			*d = append([]string(nil), s...)
			filled = append(filled, name)
		}
	}

	setString("title", &dst.Title, suggestion.Title)
	setString("author", &dst.Author, suggestion.Author)
	if dst.PublicationYear == 0 && suggestion.PublicationYear > 0 {
		dst.PublicationYear = suggestion.PublicationYear
		filled = append(filled, "publicationYear")
	}
	setString("publisher", &dst.Publisher, suggestion.Publisher)
	setString("summary", &dst.Summary, suggestion.Summary)
	setList("keywords", &dst.Keywords, suggestion.Keywords)
	setString("language", &dst.Language, suggestion.Language)
	setList("publicationTypes", &dst.PublicationTypes, suggestion.PublicationTypes)
	setList("categories", &dst.Categories, suggestion.Categories)
	return filled
}

var _ Classifier = (*OpenAI)(nil)

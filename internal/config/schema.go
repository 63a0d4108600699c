package config

import (
	"net/url"
	"strings"
	"time"
)

// Config holds stacks configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Remote      RemoteConfig      `mapstructure:"remote" yaml:"remote"`
	Ingestion   IngestionConfig   `mapstructure:"ingestion" yaml:"ingestion"`
	Registry    RegistryConfig    `mapstructure:"registry" yaml:"registry"`
	Blob        BlobConfig        `mapstructure:"blob" yaml:"blob"`
	Classifier  ClassifierConfig  `mapstructure:"classifier" yaml:"classifier"`
	TextExtract TextExtractConfig `mapstructure:"text_extract" yaml:"text_extract"`
	Defra       DefraConfig       `mapstructure:"defra" yaml:"defra"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
}

// RemoteConfig configures the remote PDF processing API.
type RemoteConfig struct {
	BaseURL           string `mapstructure:"base_url" yaml:"base_url"`
	PublicKey         string `mapstructure:"public_key" yaml:"public_key"` // supports ${ENV_VAR} syntax
	Region            string `mapstructure:"region" yaml:"region"`
	MaxRetries        int    `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" yaml:"retry_delay_seconds"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"` // 0 disables pacing
	// PollIntervalSeconds / PollTimeoutSeconds is the number of status checks.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	PollTimeoutSeconds  int `mapstructure:"poll_timeout_seconds" yaml:"poll_timeout_seconds"`
	MaxArtifactMB       int `mapstructure:"max_artifact_mb" yaml:"max_artifact_mb"`
}

// IngestionConfig configures the ingestion webhook.
type IngestionConfig struct {
	WebhookURL         string `mapstructure:"webhook_url" yaml:"webhook_url"`
	MetadataWebhookURL string `mapstructure:"metadata_webhook_url" yaml:"metadata_webhook_url"`
	WaitTimeoutSeconds int    `mapstructure:"wait_timeout_seconds" yaml:"wait_timeout_seconds"`
	MaxPDFPages        int    `mapstructure:"max_pdf_pages" yaml:"max_pdf_pages"`
	BulkConcurrency    int    `mapstructure:"bulk_concurrency" yaml:"bulk_concurrency"`
}

// RegistryConfig selects the processing registry.
type RegistryConfig struct {
	Type       string `mapstructure:"type" yaml:"type"` // "local" or "redis"
	RedisURL   string `mapstructure:"redis_url" yaml:"redis_url"`
	Prefix     string `mapstructure:"prefix" yaml:"prefix"`
	TTLSeconds int    `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
}

// BlobConfig selects where document files are stored.
type BlobConfig struct {
	Type   string `mapstructure:"type" yaml:"type"` // "dir" or "gcs"
	Dir    string `mapstructure:"dir" yaml:"dir"`   // default {home}/blobs
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// ClassifierConfig configures the metadata classifier.
type ClassifierConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	MaxText int    `mapstructure:"max_text" yaml:"max_text"`
}

// TextExtractConfig configures pdftotext.
type TextExtractConfig struct {
	Binary   string `mapstructure:"binary" yaml:"binary"`
	MaxPages int    `mapstructure:"max_pages" yaml:"max_pages"`
}

// DefraConfig holds DefraDB container configuration.
type DefraConfig struct {
	// ContainerName is the Docker container name (default: stacks-defra)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use (default: sourcenetwork/defradb:latest)
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 9181)
	Port string `mapstructure:"port" yaml:"port"`
	// URL points at an external node instead of the managed container.
	URL string `mapstructure:"url" yaml:"url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
	// EnvFile is loaded before the environment is read; missing is fine.
	EnvFile string `mapstructure:"env_file" yaml:"env_file"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:             "https://api.ilovepdf.com/v1",
			PublicKey:           "${ILOVEPDF_PUBLIC_KEY}",
			Region:              "eu",
			MaxRetries:          3,
			RetryDelaySeconds:   2,
			PollIntervalSeconds: 30,
			PollTimeoutSeconds:  3600,
			MaxArtifactMB:       50,
		},
		Ingestion: IngestionConfig{
			WebhookURL:         "${STACKS_INGEST_WEBHOOK_URL}",
			MetadataWebhookURL: "${STACKS_METADATA_WEBHOOK_URL}",
			WaitTimeoutSeconds: 300,
			MaxPDFPages:        1000,
			BulkConcurrency:    4,
		},
		Registry: RegistryConfig{
			Type:       "local",
			Prefix:     "stacks:processing:",
			TTLSeconds: 1800,
		},
		Blob: BlobConfig{
			Type: "dir",
		},
		Classifier: ClassifierConfig{
			Enabled: false,
			APIKey:  "${OPENAI_API_KEY}",
			Model:   "gpt-4o-mini",
			MaxText: 12000,
		},
		TextExtract: TextExtractConfig{
			Binary:   "pdftotext",
			MaxPages: 20,
		},
		Defra: DefraConfig{
			ContainerName: "stacks-defra",
			Image:         "sourcenetwork/defradb:latest",
			Port:          "9181",
		},
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    "8080",
			EnvFile: ".env",
		},
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// PollInterval is the remote status poll interval.
func (c RemoteConfig) PollInterval() time.Duration { return seconds(c.PollIntervalSeconds) }

// PollTimeout is the overall remote poll budget.
func (c RemoteConfig) PollTimeout() time.Duration { return seconds(c.PollTimeoutSeconds) }

func (c RemoteConfig) RetryDelay() time.Duration { return seconds(c.RetryDelaySeconds) }

// MaxArtifactBytes is the compressed artifact size limit.
func (c RemoteConfig) MaxArtifactBytes() int64 { return int64(c.MaxArtifactMB) << 20 }

func (c IngestionConfig) WaitTimeout() time.Duration { return seconds(c.WaitTimeoutSeconds) }

func (c RegistryConfig) TTL() time.Duration { return seconds(c.TTLSeconds) }

// Resolved returns a copy of c with ${ENV_VAR} references expanded in
// secrets and endpoint URLs.
func (c *Config) Resolved() Config {
	out := *c
	out.Remote.PublicKey = ResolveEnvVars(c.Remote.PublicKey)
	out.Ingestion.WebhookURL = ResolveEnvVars(c.Ingestion.WebhookURL)
	out.Ingestion.MetadataWebhookURL = ResolveEnvVars(c.Ingestion.MetadataWebhookURL)
	out.Registry.RedisURL = ResolveEnvVars(c.Registry.RedisURL)
	out.Classifier.APIKey = ResolveEnvVars(c.Classifier.APIKey)
	out.Defra.URL = ResolveEnvVars(c.Defra.URL)
	return out
}

// Redacted returns a copy of c that is safe to show. Secrets given
// literally are masked; ${ENV_VAR} references are kept as written.
func (c *Config) Redacted() Config {
	out := *c
	out.Remote.PublicKey = redact(c.Remote.PublicKey)
	out.Classifier.APIKey = redact(c.Classifier.APIKey)
	out.Registry.RedisURL = redactURL(c.Registry.RedisURL)
	return out
}

func redact(s string) string {
	if s == "" || strings.HasPrefix(s, "${") {
		return s
	}
	return "********"
}

// redactURL masks the password in a connection URL.
func redactURL(s string) string {
	if s == "" || strings.HasPrefix(s, "${") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

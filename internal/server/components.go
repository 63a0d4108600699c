package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/stacks/internal/blob"
	"github.com/jackzampolin/stacks/internal/classify"
	"github.com/jackzampolin/stacks/internal/config"
	"github.com/jackzampolin/stacks/internal/console"
	"github.com/jackzampolin/stacks/internal/home"
	"github.com/jackzampolin/stacks/internal/ingest"
	"github.com/jackzampolin/stacks/internal/registry"
	"github.com/jackzampolin/stacks/internal/remote"
	"github.com/jackzampolin/stacks/internal/remotejob"
	"github.com/jackzampolin/stacks/internal/textextract"
)

// backends are the collaborators built once per server start.
type backends struct {
	registry   registry.Registry
	blobs      blob.Store
	extractor  textextract.Extractor
	classifier classify.Classifier
	closers    []func() error
}

func (b *backends) close(logger *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("failed to close backend", "error", err)
		}
	}
}

// buildBackends creates the registry, blob store and optional text
// extraction and classification from cfg. cfg must already be resolved.
func buildBackends(ctx context.Context, cfg config.Config, h *home.Dir, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.Registry.Type {
	case "", "local":
		b.registry = registry.NewLocal()
	case "redis":
		r, err := registry.NewRedis(ctx, registry.RedisConfig{
			URL:    cfg.Registry.RedisURL,
			Prefix: cfg.Registry.Prefix,
			TTL:    cfg.Registry.TTL(),
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect processing registry: %w", err)
		}
		b.registry = r
		b.closers = append(b.closers, r.Close)
	default:
		return nil, fmt.Errorf("unknown registry type %q", cfg.Registry.Type)
	}

	switch cfg.Blob.Type {
	case "", "dir":
		root := cfg.Blob.Dir
		if root == "" {
			if h == nil {
				b.close(logger)
				return nil, errors.New("blob.dir is required without a home directory")
			}
			root = h.BlobsPath()
		}
		d, err := blob.NewDir(root)
		if err != nil {
			b.close(logger)
			return nil, fmt.Errorf("failed to open blob directory: %w", err)
		}
		b.blobs = d
	case "gcs":
		g, err := blob.NewGCS(ctx, cfg.Blob.Bucket, cfg.Blob.Prefix)
		if err != nil {
			b.close(logger)
			return nil, fmt.Errorf("failed to open blob bucket: %w", err)
		}
		b.blobs = g
		b.closers = append(b.closers, g.Close)
	default:
		b.close(logger)
		return nil, fmt.Errorf("unknown blob type %q", cfg.Blob.Type)
	}

	extractor := textextract.New(textextract.Config{
		Binary:   cfg.TextExtract.Binary,
		MaxPages: cfg.TextExtract.MaxPages,
	})
	if err := extractor.Available(); err != nil {
		logger.Warn("text extraction disabled", "error", err)
	} else {
		b.extractor = extractor
	}

	if cfg.Classifier.Enabled {
		c, err := classify.New(classify.Config{
			APIKey:  cfg.Classifier.APIKey,
			Model:   cfg.Classifier.Model,
			BaseURL: cfg.Classifier.BaseURL,
			MaxText: cfg.Classifier.MaxText,
			Logger:  logger,
		})
		if err != nil {
			logger.Warn("classifier disabled", "error", err)
		} else {
			b.classifier = c
		}
	}

	return b, nil
}

// buildComponents creates the reloadable collaborators. A nil coordinator
// means no ingestion webhook is configured.
func buildComponents(cfg config.Config, logger *slog.Logger) (console.Components, *ingest.Coordinator) {
	var comps console.Components

	if cfg.Remote.PublicKey != "" {
		client := remote.NewClient(remote.Config{
			BaseURL:           cfg.Remote.BaseURL,
			PublicKey:         cfg.Remote.PublicKey,
			Region:            cfg.Remote.Region,
			MaxRetries:        cfg.Remote.MaxRetries,
			RetryDelay:        cfg.Remote.RetryDelay(),
			RequestsPerMinute: cfg.Remote.RequestsPerMinute,
			Logger:            logger,
		})
		comps.Remote = client
		comps.Processor = remotejob.New(client, remotejob.Config{
			PollInterval:    cfg.Remote.PollInterval(),
			Timeout:         cfg.Remote.PollTimeout(),
			MaxArtifactSize: cfg.Remote.MaxArtifactBytes(),
			Logger:          logger,
		})
	} else {
		logger.Warn("remote processing disabled: no public key configured")
	}

	var coord *ingest.Coordinator
	if cfg.Ingestion.WebhookURL != "" {
		coord = ingest.NewCoordinator(ingest.Config{
			WebhookURL:         cfg.Ingestion.WebhookURL,
			MetadataWebhookURL: cfg.Ingestion.MetadataWebhookURL,
			WaitTimeout:        cfg.Ingestion.WaitTimeout(),
			MaxPDFPages:        cfg.Ingestion.MaxPDFPages,
			Pages:              ingest.PDFPageCounter{},
			Logger:             logger,
		})
		comps.Submitter = coord
	} else {
		logger.Warn("ingestion disabled: no webhook URL configured")
	}

	return comps, coord
}

// waitAll waits for in-flight fire-and-forget submissions, giving up when
// ctx ends.
func waitAll(ctx context.Context, coords []*ingest.Coordinator) error {
	done := make(chan struct{})
	go func() {
		for _, c := range coords {
			c.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("in-flight ingestions still running: %w", ctx.Err())
	}
}

// drainTimeout bounds how long shutdown waits for fire-and-forget
// submissions.
const drainTimeout = 30 * time.Second

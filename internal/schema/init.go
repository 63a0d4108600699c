// Package schema bootstraps the DefraDB collections stacks stores data in.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/stacks/internal/defra"
)

// Initialize adds every collection schema. Collections that already exist
// are skipped, so it is safe to run on every start.
func Initialize(ctx context.Context, client *defra.Client, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	schemas, err := All()
	if err != nil {
		return err
	}
	for _, s := range schemas {
		if err := client.AddSchema(ctx, s.SDL); err != nil {
			if alreadyExists(err) {
				logger.Debug("schema already exists", "collection", s.Name)
				continue
			}
			return fmt.Errorf("failed to add schema %s: %w", s.Name, err)
		}
		logger.Info("schema added", "collection", s.Name)
	}
	return nil
}

// alreadyExists matches the node's error text; the HTTP API has no error codes.
func alreadyExists(err error) bool {
	return strings.Contains(err.Error(), "already exists")
}

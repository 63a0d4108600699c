package endpoints

import (
	"github.com/jackzampolin/stacks/internal/api"
	"github.com/jackzampolin/stacks/internal/defra"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// DefraManager is nil when DefraDB is external or not used.
	DefraManager *defra.DockerManager
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{DefraManager: cfg.DefraManager},

		// Document endpoints
		&ListDocumentsEndpoint{},
		&CreateDocumentEndpoint{},
		&GetDocumentEndpoint{},
		&UpdateDocumentEndpoint{},
		&DeleteDocumentEndpoint{},

		// Document operations
		&ProcessEndpoint{},
		&IngestEndpoint{},
		&ResyncEndpoint{},
		&ClassifyEndpoint{},
		&DiffEndpoint{},

		// Bulk operations
		&BulkIngestEndpoint{},
		&BulkProcessEndpoint{},
		&BulkResyncEndpoint{},

		// Operational state
		&ProcessingEndpoint{},
		&RemoteStatusEndpoint{},
		&SettingsEndpoint{},

		// Metrics endpoints
		&ListMetricsEndpoint{},
		&MetricsSummaryEndpoint{},
	}
}

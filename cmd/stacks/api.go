package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/stacks/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Stacks server via HTTP.

These commands require a running server (stacks serve).
Use --server to specify a custom server URL.

Examples:
  stacks api health                          # Check server health
  stacks api documents list --status error   # Documents whose last ingestion failed
  stacks api documents ingest <id>           # Send a document to the pipeline
  stacks api bulk resync <id> <id>           # Push metadata changes for several documents`,
}

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "Document management and operations",
}

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Run an operation on several documents",
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Operation metrics",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health and operational state at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ProcessingEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.RemoteStatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SettingsEndpoint{}).Command(getServerURL))

	// Documents as subcommand group
	documentsCmd.AddCommand((&endpoints.ListDocumentsEndpoint{}).Command(getServerURL))
	documentsCmd.AddCommand((&endpoints.CreateDocumentEndpoint{}).Command(getServerURL))
	documentsCmd.AddCommand((&endpoints.GetDocumentEndpoint{}).Command(getServerURL))
	documentsCmd.AddCommand((&endpoints.UpdateDocumentEndpoint{}).Command(getServerURL))
	documentsCmd.AddCommand((&endpoints.DeleteDocumentEndpoint{}).Command(getServerURL))
	documentsCmd.AddCommand((&endpoints.ProcessEndpoint{}).Command(getServerURL))
	documentsCmd.AddCommand((&endpoints.IngestEndpoint{}).Command(getServerURL))
	documentsCmd.AddCommand((&endpoints.ResyncEndpoint{}).Command(getServerURL))
	documentsCmd.AddCommand((&endpoints.ClassifyEndpoint{}).Command(getServerURL))
	documentsCmd.AddCommand((&endpoints.DiffEndpoint{}).Command(getServerURL))

	// Bulk operations
	bulkCmd.AddCommand((&endpoints.BulkIngestEndpoint{}).Command(getServerURL))
	bulkCmd.AddCommand((&endpoints.BulkProcessEndpoint{}).Command(getServerURL))
	bulkCmd.AddCommand((&endpoints.BulkResyncEndpoint{}).Command(getServerURL))

	// Metrics as subcommand group
	metricsCmd.AddCommand((&endpoints.ListMetricsEndpoint{}).Command(getServerURL))
	metricsCmd.AddCommand((&endpoints.MetricsSummaryEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(documentsCmd)
	apiCmd.AddCommand(bulkCmd)
	apiCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(apiCmd)
}

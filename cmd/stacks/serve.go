package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/stacks/internal/defra"
	"github.com/jackzampolin/stacks/internal/server"
)

var (
	serveHost   string
	servePort   string
	serveMemory bool
	serveDebug  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Stacks server",
	Long: `Start the Stacks HTTP server.

This starts both the HTTP API server and the DefraDB container, unless
defra.url points at an existing node. When the server shuts down (via
Ctrl+C or SIGTERM), DefraDB is also stopped. With --memory documents are
kept in memory and DefraDB is not used at all.

Edits to the config file are picked up while the server runs: remote
processing and ingestion settings apply to the next operation.

The server provides:
  - /health     - Basic server health check
  - /ready      - Readiness check (includes DefraDB status)
  - /api/...    - Document, ingestion and metrics endpoints

Examples:
  stacks serve                    # Start on the configured port (8080)
  stacks serve --port 3000        # Start on custom port
  stacks serve --host 0.0.0.0     # Bind to all interfaces
  stacks serve --memory           # Try things out without Docker`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		level := slog.LevelInfo
		if serveDebug {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(logger)

		h, err := getHome()
		if err != nil {
			return err
		}

		cfgMgr, err := loadConfig(h, logger)
		if err != nil {
			return err
		}
		if file := cfgMgr.ConfigFile(); file != "" {
			logger.Info("loaded config", "file", file)
			cfgMgr.WatchConfig()
		} else {
			logger.Info("no config file found, using defaults", "hint", "stacks config init")
		}

		cfg := cfgMgr.Get()
		srv, err := server.New(server.Config{
			Host:   serveHost,
			Port:   servePort,
			Memory: serveMemory,
			DefraConfig: defra.DockerConfig{
				ContainerName: cfg.Defra.ContainerName,
				Image:         cfg.Defra.Image,
				HostPort:      cfg.Defra.Port,
				DataPath:      h.DefraPath(),
			},
			ConfigManager: cfgMgr,
			Home:          h,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default: server.port)")
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "Keep documents in memory instead of DefraDB")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
}

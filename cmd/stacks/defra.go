package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/stacks/internal/defra"
)

var defraCmd = &cobra.Command{
	Use:   "defra",
	Short: "Manage the DefraDB container",
	Long: `Manage the DefraDB container lifecycle.

DefraDB stores documents, ingestion snapshots and metrics. It runs in a
Docker container with data persisted to ~/.stacks/defra/. Container name,
image and port come from the defra section of the config file.

Examples:
  stacks defra start   # Start the DefraDB container
  stacks defra stop    # Stop the container (data preserved)
  stacks defra status  # Check container status
  stacks defra logs    # View container logs`,
}

// withDockerManager runs fn with a DockerManager built from the config.
func withDockerManager(cmd *cobra.Command, fn func(*defra.DockerManager) error) error {
	h, err := getHome()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfgMgr, err := loadConfig(h, logger)
	if err != nil {
		return err
	}
	cfg := cfgMgr.Get()
	if cfg.Defra.URL != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "note: defra.url is set; the server uses that node, not this container\n")
	}

	mgr, err := defra.NewDockerManager(defra.DockerConfig{
		ContainerName: cfg.Defra.ContainerName,
		Image:         cfg.Defra.Image,
		HostPort:      cfg.Defra.Port,
		DataPath:      h.DefraPath(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer mgr.Close()
	return fn(mgr)
}

var defraStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the DefraDB container",
	Long: `Start the DefraDB container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDockerManager(cmd, func(mgr *defra.DockerManager) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Starting DefraDB...")
			if err := mgr.Start(cmd.Context()); err != nil {
				return fmt.Errorf("failed to start DefraDB: %w", err)
			}
			fmt.Fprintf(out, "DefraDB is running at %s\n", mgr.URL())
			return nil
		})
	},
}

var defraStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the DefraDB container",
	Long: `Stop the DefraDB container.

This stops the container but preserves data. Use 'stacks defra start'
to restart it later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDockerManager(cmd, func(mgr *defra.DockerManager) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Stopping DefraDB...")
			if err := mgr.Stop(cmd.Context()); err != nil {
				return fmt.Errorf("failed to stop DefraDB: %w", err)
			}
			fmt.Fprintln(out, "DefraDB stopped")
			return nil
		})
	},
}

var defraStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show DefraDB container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDockerManager(cmd, func(mgr *defra.DockerManager) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			status, err := mgr.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			switch status {
			case defra.StatusRunning:
				fmt.Fprintf(out, "Status: %s\n", status)
				fmt.Fprintf(out, "URL: %s\n", mgr.URL())
				client := defra.NewClient(mgr.URL())
				if err := client.HealthCheck(ctx); err != nil {
					fmt.Fprintf(out, "Health: unhealthy (%v)\n", err)
				} else {
					fmt.Fprintln(out, "Health: healthy")
				}
			case defra.StatusStopped:
				fmt.Fprintf(out, "Status: %s (use 'stacks defra start' to start)\n", status)
			case defra.StatusNotFound:
				fmt.Fprintf(out, "Status: %s (use 'stacks defra start' to create)\n", status)
			default:
				fmt.Fprintf(out, "Status: %s\n", status)
			}
			return nil
		})
	},
}

var logsTail string

var defraLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show DefraDB container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDockerManager(cmd, func(mgr *defra.DockerManager) error {
			logs, err := mgr.Logs(cmd.Context(), logsTail)
			if err != nil {
				return fmt.Errorf("failed to get logs: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), logs)
			return nil
		})
	},
}

var defraRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the DefraDB container",
	Long: `Remove the DefraDB container.

This stops and removes the container. Data in ~/.stacks/defra/
is NOT deleted - only the container is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDockerManager(cmd, func(mgr *defra.DockerManager) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Removing DefraDB container...")
			if err := mgr.Remove(cmd.Context()); err != nil {
				return fmt.Errorf("failed to remove container: %w", err)
			}
			fmt.Fprintln(out, "DefraDB container removed (data preserved)")
			return nil
		})
	},
}

var waitTimeout time.Duration

var defraWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for DefraDB to be ready",
	Long: `Wait for DefraDB to be ready to accept connections.

This is useful in scripts to ensure DefraDB is fully started
before running other commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDockerManager(cmd, func(mgr *defra.DockerManager) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Waiting for DefraDB (timeout: %s)...\n", waitTimeout)
			if err := mgr.WaitReady(cmd.Context(), waitTimeout); err != nil {
				return fmt.Errorf("DefraDB not ready: %w", err)
			}
			fmt.Fprintln(out, "DefraDB is ready")
			return nil
		})
	},
}

func init() {
	defraCmd.AddCommand(defraStartCmd)
	defraCmd.AddCommand(defraStopCmd)
	defraCmd.AddCommand(defraStatusCmd)
	defraCmd.AddCommand(defraLogsCmd)
	defraCmd.AddCommand(defraRemoveCmd)
	defraCmd.AddCommand(defraWaitCmd)

	defraLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")
	defraWaitCmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Second, "Timeout waiting for DefraDB")

	rootCmd.AddCommand(defraCmd)
}

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/stacks/internal/api"
	"github.com/jackzampolin/stacks/internal/config"
	"github.com/jackzampolin/stacks/internal/home"
	"github.com/jackzampolin/stacks/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "stacks",
	Short: "Operator console for a document library",
	Long: `Stacks manages a library of documents on their way into an ingestion
pipeline.

It keeps document metadata and files, runs remote compression and OCR,
sends documents to the ingestion webhook and tracks what each backend
reported, then keeps the pipeline in sync as metadata changes.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.stacks/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "stacks home directory (default: ~/.stacks)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		format, err := api.ParseOutputFormat(outputFormat)
		if err != nil {
			return err
		}
		api.SetOutputFormat(format)
		return nil
	}

	rootCmd.AddCommand(versionCmd)
}

// getHome returns the home directory, creating it if needed.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// loadConfig reads the config file named by --config, or the one found in
// the working directory or home.
func loadConfig(h *home.Dir, logger *slog.Logger) (*config.Manager, error) {
	return config.NewManager(cfgFile, h.Path(), logger)
}

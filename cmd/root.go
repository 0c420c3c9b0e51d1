// Package cmd defines the CLI commands for the telegram-pars executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skywinder/telegram-pars/internal/config"
	"github.com/skywinder/telegram-pars/internal/logging"
	"github.com/skywinder/telegram-pars/internal/metrics"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telegram-pars",
		Short: "Ingests and tracks a Telegram account's chat history.",
		Long: `telegram-pars reads a user's chat history through an HTTP gateway,
stores it with full change tracking (edits and deletions across runs), and
exposes live progress of the running job to a terminal monitor and a web
dashboard, including graceful mid-run interruption.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(
		newIngestCmd(),
		newChangesCmd(),
		newWatchCmd(),
		newServeCmd(),
		newMonitorCmd(),
		newExportCmd(),
	)
	return cmd
}

// Execute is the entry point called by main.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the process-wide logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()
	return cfg, logger, nil
}

func syncLogger(logger *zap.Logger) {
	// Sync fails on some terminals; nothing actionable.
	_ = logger.Sync()
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skywinder/telegram-pars/internal/api"
	"github.com/skywinder/telegram-pars/internal/config"
	"github.com/skywinder/telegram-pars/internal/ingest"
	"github.com/skywinder/telegram-pars/internal/status"
	"github.com/skywinder/telegram-pars/internal/store"
	"github.com/skywinder/telegram-pars/internal/telegram"
)

func newIngestCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Runs one ingestion pass over all chats",
		Long: `Fetches new messages from every chat and stores them. By default only
messages newer than the last stored one are fetched per chat; --full re-reads
everything, which also detects edits and deletions.

While the run is active the status server is hosted in-process, so the
monitor command and the dashboard can observe and interrupt it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			operation := "ingest"
			return runJob(cmd.Context(), operation, full)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "re-read all chats instead of only new messages")
	return cmd
}

func newChangesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "changes",
		Short: "Re-scans all chats to detect edits and deletions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd.Context(), "changes", true)
		},
	}
}

// runJob wires the store, gateway, registry and status server, then executes
// one ingestion run. Ctrl-C requests a graceful stop at the next chat
// boundary; a second Ctrl-C kills the process the usual way.
func runJob(parent context.Context, operation string, full bool) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	st, err := store.Open(cfg.DB.URL, logger.Named("store"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("store close failed", zap.Error(cerr))
		}
	}()

	registry := status.NewRegistry(nil)
	stopSrv := startStatusServer(cfg, api.NewServer(registry, st, logger.Named("api")), logger)
	defer stopSrv()

	gateway := telegram.NewClient(telegram.Config{
		BaseURL:           cfg.Telegram.BaseURL,
		Token:             cfg.Telegram.Token,
		Timeout:           time.Duration(cfg.Telegram.TimeoutSeconds) * time.Second,
		PageSize:          cfg.Telegram.PageSize,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, logger.Named("telegram"))

	runner := ingest.New(gateway, st, registry, ingest.Config{
		Operation:         operation,
		FullScan:          full,
		ChatDelay:         cfg.ChatDelay(),
		MaxBackoff:        cfg.MaxBackoff(),
		BackoffMultiplier: cfg.RateLimit.BackoffMultiplier,
		MaxAttempts:       cfg.RateLimit.MaxRequestAttempts,
	}, logger.Named("ingest"))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A local Ctrl-C and a remote interrupt should behave the same: finish
	// the current chat, then stop.
	go func() {
		<-ctx.Done()
		registry.RequestInterrupt()
	}()

	summary, err := runner.Run(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	logger.Info("run complete",
		zap.String("operation", operation),
		zap.Int("chats", summary.ChatsProcessed),
		zap.Int("messages", summary.MessagesSaved),
		zap.Int("edits", summary.EditsDetected),
		zap.Int("deletes", summary.DeletesFound),
		zap.Bool("interrupted", summary.Interrupted))
	return nil
}

// startStatusServer hosts the status/dashboard API for the lifetime of the
// run. The returned stop function shuts it down gracefully.
func startStatusServer(cfg config.Config, apiServer *api.Server, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", zap.Error(err))
		}
	}
}

package cmd

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skywinder/telegram-pars/internal/api"
	"github.com/skywinder/telegram-pars/internal/ingest"
	"github.com/skywinder/telegram-pars/internal/status"
	"github.com/skywinder/telegram-pars/internal/store"
	"github.com/skywinder/telegram-pars/internal/telegram"
	"github.com/skywinder/telegram-pars/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-scans all chats on an interval and streams detected changes",
		Long: `Runs a full re-scan of every chat on a fixed interval and publishes each
newly detected edit or deletion. Events are available live on /api/events
(server-sent events), buffered on /api/events/recent, and the loop's state on
/api/watch. Runs until interrupted; Ctrl-C finishes the current chat first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			gateway := telegram.NewClient(telegram.Config{
				BaseURL:           cfg.Telegram.BaseURL,
				Token:             cfg.Telegram.Token,
				Timeout:           time.Duration(cfg.Telegram.TimeoutSeconds) * time.Second,
				PageSize:          cfg.Telegram.PageSize,
				RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
				Burst:             cfg.RateLimit.Burst,
			}, logger.Named("telegram"))

			// Every cycle is a full scan; deletions are invisible otherwise.
			runner := ingest.New(gateway, st, registry, ingest.Config{
				Operation:         "watch",
				FullScan:          true,
				ChatDelay:         cfg.ChatDelay(),
				MaxBackoff:        cfg.MaxBackoff(),
				BackoffMultiplier: cfg.RateLimit.BackoffMultiplier,
				MaxAttempts:       cfg.RateLimit.MaxRequestAttempts,
			}, logger.Named("ingest"))

			if interval <= 0 {
				interval = cfg.WatchInterval()
			}
			hub := watch.NewHub()
			watcher := watch.New(runner, st, hub, watch.Config{Interval: interval}, logger.Named("watch"))

			apiServer := api.NewServer(registry, st, logger.Named("api"))
			apiServer.AttachWatch(hub, watcher.Status)
			stopSrv := startStatusServer(cfg, apiServer, logger)
			defer stopSrv()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// A Ctrl-C during a scan stops it at the next chat boundary; one
			// between scans just ends the loop.
			go func() {
				<-ctx.Done()
				registry.RequestInterrupt()
			}()

			return watcher.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between scan cycles (default from config)")
	return cmd
}

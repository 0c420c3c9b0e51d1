package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skywinder/telegram-pars/internal/monitor"
)

func newMonitorCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watches a running ingestion job from the terminal",
		Long: `Polls the status server and renders live progress: completed chats, ETA,
request rates and backoff pressure. Ctrl-C forwards an interrupt request to
the job before exiting, so the run stops gracefully at its next chat
boundary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer syncLogger(logger)

			url := serverURL
			if url == "" {
				url = cfg.Monitor.ServerURL
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			poller := monitor.New(monitor.Config{
				ServerURL: url,
				Interval:  cfg.MonitorInterval(),
			}, logger.Named("monitor"))
			return poller.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "status server URL (defaults to monitor.server_url)")
	return cmd
}

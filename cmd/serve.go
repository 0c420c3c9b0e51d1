package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skywinder/telegram-pars/internal/api"
	"github.com/skywinder/telegram-pars/internal/status"
	"github.com/skywinder/telegram-pars/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the dashboard API without running an ingestion job",
		Long: `Hosts the HTTP API over the stored history (chat statistics, change
summaries, search). The status endpoints report no active job; ingestion runs
host their own status server.`,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			apiServer := api.NewServer(status.NewRegistry(nil), st, logger.Named("api"))
			stopSrv := startStatusServer(cfg, apiServer, logger)
			defer stopSrv()

			<-ctx.Done()
			logger.Info("shutdown initiated")
			return nil
		},
	}
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skywinder/telegram-pars/internal/export"
	"github.com/skywinder/telegram-pars/internal/store"
)

func newExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Writes stored history to JSON or CSV files",
		RunE: func(_ *cobra.Command, _ []string) error {
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

			exporter := export.New(st, cfg.Export.Dir, logger.Named("export"))
			switch format {
			case "json":
				path, err := exporter.JSON()
				if err != nil {
					return err
				}
				fmt.Println(path)
			case "csv":
				paths, err := exporter.CSV()
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Println(p)
				}
			default:
				return fmt.Errorf("unknown format %q (want json or csv)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "export format: json or csv")
	return cmd
}

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var sweepBatch int

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Sync confirmed payments that never reached the partner network",
		Long: `Runs one reconciliation pass and exits.

Confirmed payments without a synced_at stamp that were last updated before the
grace window are forwarded to the partner network. Syncs are idempotent, so the
sweep is safe to run alongside a serving instance.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := a.sweeper(sweepBatch).Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}

			logger.WithFields(logrus.Fields{
				"scanned": rep.Scanned,
				"synced":  rep.Synced,
				"skipped": rep.Skipped,
				"failed":  rep.Failed,
			}).Info("sweep complete")
			if rep.Failed > 0 {
				return fmt.Errorf("%d payments failed to sync", rep.Failed)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&sweepBatch, "batch", 0, "maximum payments to scan (default 100)")
	return cmd
}

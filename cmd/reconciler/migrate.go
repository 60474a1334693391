package main

import (
	"github.com/spf13/cobra"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/db"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return db.RunMigrations(cfg.DatabaseDSN, logger)
		},
	}
}

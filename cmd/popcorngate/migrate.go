package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voyagen/popcorngate/internal/history"
	"github.com/voyagen/popcorngate/internal/logging"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply session history migrations to DATABASE_URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("migrate: DATABASE_URL is not set")
			}
			if err := history.RunMigrations(cfg.DatabaseURL, migrationsURL()); err != nil {
				return err
			}
			logging.New("popcorngate").Info("migrations applied")
			return nil
		},
	}
}

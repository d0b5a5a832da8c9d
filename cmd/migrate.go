package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/smart-attendance/internal/config"
	"github.com/kozaktomas/smart-attendance/internal/database/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the embedded SQL migrations to the PostgreSQL database in DATABASE_URL.
Migrations already recorded in schema_migrations are skipped.

Examples:
  # Apply pending migrations
  smart-attendance migrate

  # Only list what has been applied
  smart-attendance migrate --status`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Bool("status", false, "List applied migrations without applying new ones")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if mustGetBool(cmd, "status") {
		applied, err := pool.MigrationsApplied(ctx)
		if err != nil {
			return fmt.Errorf("reading migration status: %w", err)
		}
		fmt.Printf("Applied migrations: %d\n", len(applied))
		for _, name := range applied {
			fmt.Printf("  %s\n", name)
		}
		return nil
	}

	applied, err := pool.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	if len(applied) == 0 {
		fmt.Println("Database is up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Printf("Applied %s\n", name)
	}
	return nil
}

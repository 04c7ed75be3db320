package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/advisor/internal/config"
	"github.com/keyxmakerx/advisor/internal/database"
	"github.com/keyxmakerx/advisor/internal/plugins/audit"
)

var errNoDatabase = errors.New("no database configured: set DB_HOST or DATABASE_URL")

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the auth event log schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(cfg *config.Config, db *sql.DB) error {
				return database.RunMigrations(db, cfg.Database.MigrationsPath)
			})
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(cfg *config.Config, db *sql.DB) error {
				if err := database.RollbackMigrations(db, cfg.Database.MigrationsPath, steps); err != nil {
					return err
				}
				slog.Info("migrations rolled back", slog.Int("steps", steps))
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert")

	cmd.AddCommand(up, down)
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Maintain the auth event log",
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete auth events older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(_ *config.Config, db *sql.DB) error {
				svc := audit.NewAuditService(audit.NewAuditRepository(db), slog.Default())
				n, err := svc.Purge(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d auth events older than %s\n", n, olderThan)
				return nil
			})
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "retention window")

	cmd.AddCommand(purge)
	return cmd
}

// withDatabase loads the config, opens MariaDB and runs fn.
func withDatabase(ctx context.Context, fn func(*config.Config, *sql.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled() {
		return errNoDatabase
	}

	db, err := database.NewMariaDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to mariadb: %w", err)
	}
	defer db.Close()

	return fn(cfg, db)
}

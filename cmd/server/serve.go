package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/keyxmakerx/advisor/internal/app"
	"github.com/keyxmakerx/advisor/internal/database"
)

// shutdownTimeout is how long in-flight requests get to finish.
const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			slog.Info("starting advisor",
				slog.String("env", cfg.Env),
				slog.Int("port", cfg.Port),
				slog.String("version", version),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// --- Connect to MariaDB (auth event log) ---
			var db *sql.DB
			if cfg.Database.Enabled() {
				db, err = database.NewMariaDB(ctx, cfg.Database)
				if err != nil {
					return fmt.Errorf("connecting to mariadb: %w", err)
				}
				defer db.Close()
				slog.Info("connected to MariaDB")

				if !skipMigrations {
					if err := database.RunMigrations(db, cfg.Database.MigrationsPath); err != nil {
						return err
					}
				}
			} else {
				slog.Info("no database configured, auth event log disabled")
			}

			// --- Connect to Redis (session detail cache) ---
			var rdb *redis.Client
			if cfg.Redis.URL != "" {
				rdb, err = database.NewRedis(ctx, cfg.Redis)
				if err != nil {
					return fmt.Errorf("connecting to redis: %w", err)
				}
				defer rdb.Close()
				slog.Info("connected to Redis")
			} else {
				slog.Info("no redis configured, using in-process detail cache")
			}

			application := app.New(cfg, db, rdb)
			application.RegisterRoutes()

			// --- Graceful Shutdown ---
			// Drain connections on SIGINT/SIGTERM so container restarts are
			// seamless.
			go func() {
				<-ctx.Done()
				slog.Info("shutting down server...")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := application.Echo.Shutdown(shutdownCtx); err != nil {
					slog.Error("server forced shutdown", slog.Any("error", err))
				}
			}()

			if err := application.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stopped: %w", err)
			}
			slog.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending database migrations at startup")
	return cmd
}

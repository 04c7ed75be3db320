// Package database provides connection setup for MariaDB and Redis.
// Both connections are optional: MariaDB backs the auth event log and Redis
// the shared session detail cache. This package owns the connection
// lifecycle (open, configure pool, ping, close).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// MariaDB driver -- imported for side effect of registering the driver.
	_ "github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/advisor/internal/config"
)

// maxPingAttempts bounds how long startup waits for MariaDB.
const maxPingAttempts = 10

// NewMariaDB opens a MariaDB pool and pings it until it answers, backing off
// between attempts. MariaDB may still be starting when the app container
// launches.
func NewMariaDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	backoff := time.Second
	var pingErr error
	for attempt := 1; attempt <= maxPingAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr = db.PingContext(pingCtx)
		cancel()
		if pingErr == nil {
			return db, nil
		}
		if attempt == maxPingAttempts {
			break
		}

		slog.Warn("mariadb not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxPingAttempts),
			slog.Duration("backoff", backoff),
			slog.Any("error", pingErr),
		)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("waiting for mariadb: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}

	db.Close()
	return nil, fmt.Errorf("pinging mariadb after %d attempts: %w", maxPingAttempts, pingErr)
}

// Package store defines the durable best-time storage contract and selects
// a backend at startup. Two interchangeable implementations exist: an
// embedded single-file SQLite store and a networked PostgreSQL store.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ztimer/internal/config"
	"github.com/ztimer/internal/domain"
	"github.com/ztimer/internal/postgres"
	"github.com/ztimer/internal/sqlite"
)

// Store is the capability set the timer engine needs from durable storage.
// UpdateBestTime is unconditional; the improvement comparison is the
// engine's responsibility.
type Store interface {
	// Init creates the schema if it does not exist. Safe to call against an
	// already-initialized store.
	Init(ctx context.Context) error

	// Close releases the backend's resources.
	Close()

	// GetBestTime returns the stored best time in milliseconds for a
	// player+timer pair. ok is false when no record exists.
	GetBestTime(ctx context.Context, playerID uuid.UUID, timerID string) (millis int64, ok bool, err error)

	// UpdateBestTime inserts or overwrites the best-time row for a
	// player+timer pair.
	UpdateBestTime(ctx context.Context, playerID uuid.UUID, playerName, timerID string, bestMillis int64, at time.Time) error

	// ResetBestTime deletes one player+timer row. No-op if absent.
	ResetBestTime(ctx context.Context, playerID uuid.UUID, timerID string) error

	// ResetTimer deletes all rows for a timer. No-op if none exist.
	ResetTimer(ctx context.Context, timerID string) error

	// TopN returns up to n rows for a timer ordered by best time ascending.
	TopN(ctx context.Context, timerID string, n int) ([]domain.LeaderboardEntry, error)

	// UpdatePlayerName renames the player across all of their rows.
	// A player with no rows yet is not an error.
	UpdatePlayerName(ctx context.Context, playerID uuid.UUID, playerName string) error
}

// New builds the backend named by the configuration. The choice is fixed for
// the process lifetime.
func New(cfg *config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case config.StoragePostgres:
		return postgres.NewRepository(&cfg.Postgres, logger)
	case config.StorageSQLite:
		return sqlite.NewRepository(&cfg.SQLite, logger)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

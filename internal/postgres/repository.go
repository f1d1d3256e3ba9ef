package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ztimer/internal/config"
	"github.com/ztimer/internal/domain"
)

// Repository provides PostgreSQL-backed best-time storage
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Init creates the schema. Idempotent: safe against an already-initialized
// database.
func (r *Repository) Init(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS best_times (
			player_id    UUID NOT NULL,
			player_name  VARCHAR(64) NOT NULL,
			timer_id     VARCHAR(64) NOT NULL,
			best_millis  BIGINT NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (player_id, timer_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_best_times_ranking ON best_times(timer_id, best_millis)`,
	}

	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database schema initialized")
	return nil
}

// GetBestTime returns the stored best time for a player+timer pair
func (r *Repository) GetBestTime(ctx context.Context, playerID uuid.UUID, timerID string) (int64, bool, error) {
	query := `SELECT best_millis FROM best_times WHERE player_id = $1 AND timer_id = $2`

	var millis int64
	err := r.pool.QueryRow(ctx, query, playerID, timerID).Scan(&millis)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("getting best time: %w", err)
	}
	return millis, true, nil
}

// UpdateBestTime inserts or overwrites a player's best-time row
func (r *Repository) UpdateBestTime(ctx context.Context, playerID uuid.UUID, playerName, timerID string, bestMillis int64, at time.Time) error {
	query := `
		INSERT INTO best_times (player_id, player_name, timer_id, best_millis, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (player_id, timer_id)
		DO UPDATE SET player_name = $2, best_millis = $4, last_updated = $5
	`
	if _, err := r.pool.Exec(ctx, query, playerID, playerName, timerID, bestMillis, at); err != nil {
		return fmt.Errorf("updating best time: %w", err)
	}
	return nil
}

// ResetBestTime deletes one player+timer row
func (r *Repository) ResetBestTime(ctx context.Context, playerID uuid.UUID, timerID string) error {
	query := `DELETE FROM best_times WHERE player_id = $1 AND timer_id = $2`
	if _, err := r.pool.Exec(ctx, query, playerID, timerID); err != nil {
		return fmt.Errorf("resetting best time: %w", err)
	}
	return nil
}

// ResetTimer deletes all rows for a timer
func (r *Repository) ResetTimer(ctx context.Context, timerID string) error {
	query := `DELETE FROM best_times WHERE timer_id = $1`
	if _, err := r.pool.Exec(ctx, query, timerID); err != nil {
		return fmt.Errorf("resetting timer: %w", err)
	}
	return nil
}

// TopN returns up to n rows for a timer, best time ascending
func (r *Repository) TopN(ctx context.Context, timerID string, n int) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT player_id, player_name, best_millis
		FROM best_times
		WHERE timer_id = $1
		ORDER BY best_millis ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, timerID, n)
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var entry domain.LeaderboardEntry
		if err := rows.Scan(&entry.PlayerID, &entry.PlayerName, &entry.BestMillis); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading top n: %w", err)
	}
	return entries, nil
}

// UpdatePlayerName renames a player across all of their rows. A player with
// no rows is not an error.
func (r *Repository) UpdatePlayerName(ctx context.Context, playerID uuid.UUID, playerName string) error {
	query := `UPDATE best_times SET player_name = $1 WHERE player_id = $2`
	if _, err := r.pool.Exec(ctx, query, playerName, playerID); err != nil {
		return fmt.Errorf("updating player name: %w", err)
	}
	return nil
}

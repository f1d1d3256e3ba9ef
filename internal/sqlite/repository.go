// Package sqlite implements the durable store on a single local file using
// the pure Go SQLite driver, so a deployment needs no external database.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ztimer/internal/config"
	"github.com/ztimer/internal/domain"
)

// bestTimeRow is the persisted shape of a best-time record.
type bestTimeRow struct {
	PlayerID    string    `gorm:"column:player_id;primaryKey;size:36"`
	TimerID     string    `gorm:"column:timer_id;primaryKey;size:64;index:idx_best_times_ranking,priority:1"`
	PlayerName  string    `gorm:"column:player_name;size:64;not null"`
	BestMillis  int64     `gorm:"column:best_millis;not null;index:idx_best_times_ranking,priority:2"`
	LastUpdated time.Time `gorm:"column:last_updated;not null"`
}

func (bestTimeRow) TableName() string { return "best_times" }

// Repository provides SQLite-backed best-time storage
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewRepository opens (or creates) the database file and applies PRAGMAs.
func NewRepository(cfg *config.SQLiteConfig, log *slog.Logger) (*Repository, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	return &Repository{
		db:     db,
		logger: log,
	}, nil
}

// Close closes the underlying database handle
func (r *Repository) Close() {
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Init creates the schema. Idempotent.
func (r *Repository) Init(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&bestTimeRow{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	r.logger.Info("database schema initialized")
	return nil
}

// GetBestTime returns the stored best time for a player+timer pair
func (r *Repository) GetBestTime(ctx context.Context, playerID uuid.UUID, timerID string) (int64, bool, error) {
	var row bestTimeRow
	err := r.db.WithContext(ctx).
		Where("player_id = ? AND timer_id = ?", playerID.String(), timerID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("getting best time: %w", err)
	}
	return row.BestMillis, true, nil
}

// UpdateBestTime inserts or overwrites a player's best-time row
func (r *Repository) UpdateBestTime(ctx context.Context, playerID uuid.UUID, playerName, timerID string, bestMillis int64, at time.Time) error {
	row := bestTimeRow{
		PlayerID:    playerID.String(),
		TimerID:     timerID,
		PlayerName:  playerName,
		BestMillis:  bestMillis,
		LastUpdated: at,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}, {Name: "timer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"player_name", "best_millis", "last_updated"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("updating best time: %w", err)
	}
	return nil
}

// ResetBestTime deletes one player+timer row
func (r *Repository) ResetBestTime(ctx context.Context, playerID uuid.UUID, timerID string) error {
	err := r.db.WithContext(ctx).
		Where("player_id = ? AND timer_id = ?", playerID.String(), timerID).
		Delete(&bestTimeRow{}).Error
	if err != nil {
		return fmt.Errorf("resetting best time: %w", err)
	}
	return nil
}

// ResetTimer deletes all rows for a timer
func (r *Repository) ResetTimer(ctx context.Context, timerID string) error {
	err := r.db.WithContext(ctx).
		Where("timer_id = ?", timerID).
		Delete(&bestTimeRow{}).Error
	if err != nil {
		return fmt.Errorf("resetting timer: %w", err)
	}
	return nil
}

// TopN returns up to n rows for a timer, best time ascending
func (r *Repository) TopN(ctx context.Context, timerID string, n int) ([]domain.LeaderboardEntry, error) {
	var rows []bestTimeRow
	err := r.db.WithContext(ctx).
		Where("timer_id = ?", timerID).
		Order("best_millis ASC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.PlayerID)
		if err != nil {
			r.logger.Warn("skipping row with malformed player id", "player_id", row.PlayerID)
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID:   id,
			PlayerName: row.PlayerName,
			BestMillis: row.BestMillis,
		})
	}
	return entries, nil
}

// UpdatePlayerName renames a player across all of their rows. A player with
// no rows is not an error.
func (r *Repository) UpdatePlayerName(ctx context.Context, playerID uuid.UUID, playerName string) error {
	err := r.db.WithContext(ctx).
		Model(&bestTimeRow{}).
		Where("player_id = ?", playerID.String()).
		Update("player_name", playerName).Error
	if err != nil {
		return fmt.Errorf("updating player name: %w", err)
	}
	return nil
}

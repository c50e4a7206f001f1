package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kamilpajak/cascade/internal/thresholds"
	"github.com/kamilpajak/cascade/pkg/models"
)

// ErrVersionConflict is returned when a newer config was saved concurrently.
var ErrVersionConflict = thresholds.ErrVersionConflict

const uniqueViolation = "23505"

// MaxHistoryLimit caps ListThresholdHistory.
const MaxHistoryLimit = 500

const thresholdColumns = `primary_threshold, secondary_threshold, tertiary_threshold, version, updated_at, updated_by`

// LoadThresholds returns the current config, or nil if none was saved yet.
func (db *DB) LoadThresholds(ctx context.Context) (*models.ThresholdConfig, error) {
	cfg, err := scanThresholds(db.pool.QueryRow(ctx,
		`SELECT `+thresholdColumns+` FROM threshold_config WHERE id = 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveThresholds records cfg in the history and makes it current, in one
// transaction. cfg.Version must be newer than the stored version.
func (db *DB) SaveThresholds(ctx context.Context, cfg models.ThresholdConfig) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The guarded upsert runs first so a concurrent writer blocks on the
	// row lock and then sees the newer version.
	tag, err := tx.Exec(ctx,
		`INSERT INTO threshold_config (id, `+thresholdColumns+`)
		 VALUES (1, $1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   primary_threshold = EXCLUDED.primary_threshold,
		   secondary_threshold = EXCLUDED.secondary_threshold,
		   tertiary_threshold = EXCLUDED.tertiary_threshold,
		   version = EXCLUDED.version,
		   updated_at = EXCLUDED.updated_at,
		   updated_by = EXCLUDED.updated_by
		 WHERE threshold_config.version < EXCLUDED.version`,
		cfg.Primary, cfg.Secondary, cfg.Tertiary, cfg.Version, cfg.UpdatedAt, cfg.UpdatedBy,
	)
	if err != nil {
		return saveError("failed to upsert thresholds", cfg.Version, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: version %d is not newer than stored", ErrVersionConflict, cfg.Version)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO threshold_history (id, `+thresholdColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), cfg.Primary, cfg.Secondary, cfg.Tertiary, cfg.Version, cfg.UpdatedAt, cfg.UpdatedBy,
	)
	if err != nil {
		return saveError("failed to insert history", cfg.Version, err)
	}

	return tx.Commit(ctx)
}

// saveError reports unique violations as version conflicts.
func saveError(msg string, version int64, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: version %d already saved", ErrVersionConflict, version)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// ListThresholdHistory returns saved configs, newest first.
func (db *DB) ListThresholdHistory(ctx context.Context, limit int) ([]models.ThresholdConfig, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+thresholdColumns+` FROM threshold_history
		 ORDER BY version DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []models.ThresholdConfig{}
	for rows.Next() {
		cfg, err := scanThresholds(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, *cfg)
	}
	return history, rows.Err()
}

func scanThresholds(row pgx.Row) (*models.ThresholdConfig, error) {
	var cfg models.ThresholdConfig
	err := row.Scan(&cfg.Primary, &cfg.Secondary, &cfg.Tertiary, &cfg.Version, &cfg.UpdatedAt, &cfg.UpdatedBy)
	if err != nil {
		return nil, err
	}
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return &cfg, nil
}

package database

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kamilpajak/cascade/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDB returns a connected, migrated DB or skips if DATABASE_URL is not set.
func testDB(t *testing.T) *DB {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	return connect(t, dbURL)
}

func connect(t *testing.T, dbURL string) *DB {
	t.Helper()
	require.NoError(t, Migrate(dbURL))

	ctx := context.Background()
	db, err := New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.pool.Exec(ctx, `TRUNCATE threshold_config, threshold_history`)
	require.NoError(t, err)
	return db
}

func thresholdsAt(version int64, primary float64, by string) models.ThresholdConfig {
	return models.ThresholdConfig{
		Primary:   primary,
		Secondary: 0.85,
		Tertiary:  0.80,
		Version:   version,
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Add(time.Duration(version) * time.Minute),
		UpdatedBy: by,
	}
}

func TestMigrations(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	// Migrations are idempotent; MigrateDown is not run so parallel
	// packages sharing the database are unaffected.
	require.NoError(t, Migrate(dbURL))
	require.NoError(t, Migrate(dbURL))
}

func TestThresholds(t *testing.T) {
	runThresholdTests(t, testDB(t))
}

func runThresholdTests(t *testing.T, db *DB) {
	ctx := context.Background()

	t.Run("load empty", func(t *testing.T) {
		cfg, err := db.LoadThresholds(ctx)
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("save and load", func(t *testing.T) {
		require.NoError(t, db.SaveThresholds(ctx, thresholdsAt(2, 0.70, "alice")))
		require.NoError(t, db.SaveThresholds(ctx, thresholdsAt(3, 0.75, "bob")))

		cfg, err := db.LoadThresholds(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, thresholdsAt(3, 0.75, "bob"), *cfg)
	})

	t.Run("stale version rejected atomically", func(t *testing.T) {
		err := db.SaveThresholds(ctx, thresholdsAt(1, 0.10, "mallory"))
		assert.ErrorIs(t, err, ErrVersionConflict)

		cfg, err := db.LoadThresholds(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), cfg.Version)

		history, err := db.ListThresholdHistory(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, history, 2, "rejected save must not leave a history row")
	})

	t.Run("duplicate version rejected", func(t *testing.T) {
		err := db.SaveThresholds(ctx, thresholdsAt(3, 0.99, "carol"))
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("history newest first", func(t *testing.T) {
		history, err := db.ListThresholdHistory(ctx, 0)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, int64(3), history[0].Version)
		assert.Equal(t, "alice", history[1].UpdatedBy)

		limited, err := db.ListThresholdHistory(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("history collision reported as conflict", func(t *testing.T) {
		taken := thresholdsAt(4, 0.60, "other-process")
		_, err := db.pool.Exec(ctx,
			`INSERT INTO threshold_history (id, `+thresholdColumns+`) VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)`,
			taken.Primary, taken.Secondary, taken.Tertiary, taken.Version, taken.UpdatedAt, taken.UpdatedBy)
		require.NoError(t, err)

		err = db.SaveThresholds(ctx, thresholdsAt(4, 0.65, "dave"))
		assert.ErrorIs(t, err, ErrVersionConflict)

		cfg, err := db.LoadThresholds(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), cfg.Version, "failed save must roll back the upsert")
	})

	t.Run("concurrent writers", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = db.SaveThresholds(ctx, thresholdsAt(5, 0.5+float64(i)/10, "writer"))
			}()
		}
		wg.Wait()

		var saved, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				saved++
			case errors.Is(err, ErrVersionConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, saved)
		assert.Equal(t, 1, conflicts)
	})
}

// Package thresholds holds the process-wide confidence thresholds.
package thresholds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kamilpajak/cascade/pkg/models"
)

// Persister stores threshold configs outside the process. SaveThresholds
// returns an error wrapping ErrVersionConflict when the stored config is
// not older than cfg.
type Persister interface {
	LoadThresholds(ctx context.Context) (*models.ThresholdConfig, error)
	SaveThresholds(ctx context.Context, cfg models.ThresholdConfig) error
}

// HistoryLister is implemented by persisters that keep past configs.
type HistoryLister interface {
	ListThresholdHistory(ctx context.Context, limit int) ([]models.ThresholdConfig, error)
}

var (
	// ErrNoHistory is returned by History when updates are not persisted.
	ErrNoHistory = errors.New("threshold history requires a database")
	// ErrVersionConflict is returned by Update when another process saved
	// a newer config first. The store reloads, so a retry applies on top
	// of the newer config.
	ErrVersionConflict = errors.New("threshold version conflict")
)

// Store serves immutable threshold snapshots. Readers never block; writers
// serialize on mu and publish a fresh snapshot only after validation and
// persistence succeed.
type Store struct {
	current   atomic.Pointer[models.ThresholdConfig]
	mu        sync.Mutex
	persister Persister
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPersister makes updates write through to p.
func WithPersister(p Persister) Option {
	return func(s *Store) {
		s.persister = p
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store seeded with initial.
func NewStore(initial models.ThresholdConfig, opts ...Option) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if initial.Version == 0 {
		initial.Version = 1
	}
	if initial.UpdatedAt.IsZero() {
		initial.UpdatedAt = s.now().UTC()
	}
	s.current.Store(&initial)
	return s, nil
}

// Load replaces the snapshot with the persisted config, if any.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) error {
	cfg, err := s.persister.LoadThresholds(ctx)
	if err != nil {
		return fmt.Errorf("failed to load thresholds: %w", err)
	}
	if cfg == nil {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("persisted thresholds invalid: %w", err)
	}
	s.current.Store(cfg)
	slog.Info("loaded persisted thresholds", "version", cfg.Version, "updated_by", cfg.UpdatedBy)
	return nil
}

// Get returns the current snapshot.
func (s *Store) Get() models.ThresholdConfig {
	return *s.current.Load()
}

// Update applies a partial change. Either every supplied field is committed
// or none is.
func (s *Store) Update(ctx context.Context, u models.ThresholdUpdate, updatedBy string) (models.ThresholdConfig, error) {
	if u.Empty() {
		return models.ThresholdConfig{}, &models.ValidationError{Message: "no thresholds supplied"}
	}
	if err := u.Validate(""); err != nil {
		return models.ThresholdConfig{}, err
	}
	if updatedBy == "" {
		updatedBy = "unknown"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next := u.Apply(*prev)
	next.Version = prev.Version + 1
	next.UpdatedAt = s.now().UTC()
	next.UpdatedBy = updatedBy

	if s.persister != nil {
		if err := s.persister.SaveThresholds(ctx, next); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				if lerr := s.loadLocked(ctx); lerr != nil {
					slog.Error("failed to reload thresholds after conflict", "error", lerr)
				}
			}
			return models.ThresholdConfig{}, fmt.Errorf("failed to persist thresholds: %w", err)
		}
	}

	s.current.Store(&next)
	slog.Info("thresholds updated",
		"version", next.Version,
		"primary", next.Primary,
		"secondary", next.Secondary,
		"tertiary", next.Tertiary,
		"updated_by", updatedBy,
	)
	return next, nil
}

// Resolve merges a per-request override onto the current snapshot.
func (s *Store) Resolve(override *models.ThresholdUpdate) models.ThresholdConfig {
	cfg := s.Get()
	if override != nil {
		cfg = override.Apply(cfg)
	}
	return cfg
}

// History lists persisted configs, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]models.ThresholdConfig, error) {
	lister, ok := s.persister.(HistoryLister)
	if !ok {
		return nil, ErrNoHistory
	}
	return lister.ListThresholdHistory(ctx, limit)
}

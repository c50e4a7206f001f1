// Package app assembles a running orchestrator from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kamilpajak/cascade/internal/api"
	"github.com/kamilpajak/cascade/internal/auth"
	"github.com/kamilpajak/cascade/internal/backend"
	"github.com/kamilpajak/cascade/internal/config"
	"github.com/kamilpajak/cascade/internal/database"
	"github.com/kamilpajak/cascade/internal/orchestrator"
	"github.com/kamilpajak/cascade/internal/thresholds"
)

// App holds the wired components. Close it when done.
type App struct {
	Config     config.Config
	Thresholds *thresholds.Store
	Controller *orchestrator.Controller
	Fast       *backend.Client
	Slow       *backend.Client

	db       *database.DB
	verifier *auth.Verifier
}

type options struct {
	migrate    bool
	httpClient *http.Client
}

// Option configures New.
type Option func(*options)

// WithMigrations applies pending database migrations before connecting.
func WithMigrations() Option {
	return func(o *options) { o.migrate = true }
}

// WithHTTPClient sets the client used for backend calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// New validates cfg and builds the store, backend clients and controller.
// A database is used only when cfg.Database.URL is set; an auth verifier
// only when cfg.Auth.Domain is set.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}

	var storeOpts []thresholds.Option
	if cfg.Database.URL != "" {
		if o.migrate {
			slog.Info("running database migrations")
			if err := database.Migrate(cfg.Database.URL); err != nil {
				return nil, err
			}
		}
		db, err := database.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.db = db
		storeOpts = append(storeOpts, thresholds.WithPersister(db))
	}

	store, err := thresholds.NewStore(cfg.ThresholdConfig(), storeOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := store.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.Thresholds = store

	var clientOpts []backend.Option
	if o.httpClient != nil {
		clientOpts = append(clientOpts, backend.WithHTTPClient(o.httpClient))
	}
	a.Fast = backend.NewFast(cfg.Fast, clientOpts...)
	a.Slow = backend.NewSlow(cfg.Slow, clientOpts...)
	a.Controller = orchestrator.New(a.Fast, a.Slow, store)

	if cfg.Auth.Domain != "" {
		v, err := auth.NewVerifier(auth.Config{Domain: cfg.Auth.Domain, Audience: cfg.Auth.Audience})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.verifier = v
	}

	th := store.Get()
	slog.Info("orchestrator ready",
		"fast_url", cfg.Fast.URL,
		"slow_url", cfg.Slow.URL,
		"thresholds_version", th.Version,
		"persistent", a.db != nil,
		"auth", a.verifier != nil,
	)
	return a, nil
}

// Handler returns the HTTP API over the app's components.
func (a *App) Handler() *api.Server {
	cfg := api.Config{
		Classifier:     a.Controller,
		Thresholds:     a.Thresholds,
		AuthVerifier:   a.verifier,
		AllowedOrigin:  a.Config.Server.AllowedOrigin,
		RequestTimeout: a.Config.Server.RequestTimeout,
	}
	if a.db != nil {
		cfg.Database = a.db
	}
	return api.NewServer(cfg)
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

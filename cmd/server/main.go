// Package main provides the cascade classification API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kamilpajak/cascade/internal/app"
	"github.com/kamilpajak/cascade/internal/config"
	"github.com/kamilpajak/cascade/internal/database"
	"github.com/kamilpajak/cascade/internal/logging"
)

func main() {
	var (
		configPath  = flag.String("config", os.Getenv("CASCADE_CONFIG"), "Path to YAML config file")
		port        = flag.String("port", "", "Server port (overrides config)")
		migrateOnly = flag.Bool("migrate", false, "Run migrations and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	logging.Init(cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))

	if *migrateOnly {
		if cfg.Database.URL == "" {
			fatal("DATABASE_URL is required for -migrate")
		}
		if err := database.Migrate(cfg.Database.URL); err != nil {
			fatal("migration failed", "error", err)
		}
		slog.Info("migrations complete")
		return
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, app.WithMigrations())
	if err != nil {
		fatal("failed to start", "error", err)
	}
	defer a.Close()

	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		// Slow backend calls may take minutes; the API enforces its own
		// per-request deadline.
		WriteTimeout: cfg.Server.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
		return
	}
	slog.Info("server stopped")
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

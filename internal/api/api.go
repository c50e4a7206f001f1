// Package api provides the orchestrator's HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kamilpajak/cascade/internal/auth"
	"github.com/kamilpajak/cascade/internal/orchestrator"
	"github.com/kamilpajak/cascade/internal/web"
	"github.com/kamilpajak/cascade/pkg/models"
)

const (
	maxBodyBytes  = 1 << 20
	healthTimeout = 2 * time.Second
)

// Classifier runs classification requests.
type Classifier interface {
	Classify(ctx context.Context, req models.ClassificationRequest) (*models.ClassificationResult, error)
	ClassifyWithProgress(ctx context.Context, req models.ClassificationRequest, emitter orchestrator.ProgressEmitter) (*models.ClassificationResult, error)
	HealthCheck() orchestrator.Health
}

// ThresholdService reads and changes the live thresholds.
type ThresholdService interface {
	Get() models.ThresholdConfig
	Update(ctx context.Context, u models.ThresholdUpdate, updatedBy string) (models.ThresholdConfig, error)
	History(ctx context.Context, limit int) ([]models.ThresholdConfig, error)
}

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the API server.
type Server struct {
	classifier     Classifier
	thresholds     ThresholdService
	database       Pinger
	authVerifier   *auth.Verifier
	allowedOrigin  string
	requestTimeout time.Duration
	mux            *http.ServeMux
}

// Config holds API server configuration.
type Config struct {
	Classifier Classifier
	Thresholds ThresholdService
	// Database, when set, is reported on /health.
	Database Pinger
	// AuthVerifier protects threshold updates. Nil leaves them open.
	AuthVerifier   *auth.Verifier
	AllowedOrigin  string
	RequestTimeout time.Duration
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	origin := cfg.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	s := &Server{
		classifier:     cfg.Classifier,
		thresholds:     cfg.Thresholds,
		database:       cfg.Database,
		authVerifier:   cfg.AuthVerifier,
		allowedOrigin:  origin,
		requestTimeout: cfg.RequestTimeout,
		mux:            http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/classify", s.handleClassify)
	s.mux.Handle("POST /api/classify/stream", s.withTimeout(web.NewHandler(s.classifier)))

	s.mux.HandleFunc("GET /api/thresholds", s.handleGetThresholds)
	s.mux.HandleFunc("GET /api/thresholds/history", s.handleThresholdHistory)

	update := http.Handler(http.HandlerFunc(s.handleUpdateThresholds))
	if s.authVerifier != nil {
		update = auth.Middleware(s.authVerifier)(auth.RequirePermission(auth.PermissionWriteThresholds)(update))
	}
	s.mux.Handle("PATCH /api/thresholds", update)
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	if s.requestTimeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ServeHTTP implements http.Handler. Every response carries X-Request-ID,
// taken from the request or generated.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
		r.Header.Set("X-Request-ID", id)
	}
	w.Header().Set("X-Request-ID", id)

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	slog.Info("request completed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"request_id", id,
		"duration", time.Since(start),
	)
}

// statusRecorder captures the response status for logging. It forwards
// Flush so streaming handlers keep working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.classifier.HealthCheck()
	if s.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		health.Database = "ok"
		if err := s.database.Ping(ctx); err != nil {
			slog.Warn("database ping failed", "error", err)
			health.Database = "unavailable"
		}
	}
	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

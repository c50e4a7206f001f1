package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kamilpajak/cascade/internal/auth"
	"github.com/kamilpajak/cascade/internal/backend"
	"github.com/kamilpajak/cascade/internal/config"
	"github.com/kamilpajak/cascade/internal/orchestrator"
	"github.com/kamilpajak/cascade/internal/thresholds"
	"github.com/kamilpajak/cascade/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend answers every requested level with the configured confidence.
type fakeBackend struct {
	conf   map[string]float64
	status int
	delay  time.Duration
	calls  atomic.Int32
	srv    *httptest.Server
}

func newFakeBackend(t *testing.T, conf map[string]float64) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{conf: conf, status: http.StatusOK}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.calls.Add(1)
		if fb.delay > 0 {
			select {
			case <-time.After(fb.delay):
			case <-r.Context().Done():
				return
			}
		}
		if fb.status != http.StatusOK {
			w.WriteHeader(fb.status)
			return
		}
		var req struct {
			Levels []string `json:"levels"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]any{}
		for _, l := range req.Levels {
			resp[l] = map[string]any{"label": "label-" + l, "confidence": fb.conf[l], "reasoning": "why"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

type harness struct {
	server *Server
	fast   *fakeBackend
	slow   *fakeBackend
	store  *thresholds.Store
}

func newHarness(t *testing.T, fastConf map[string]float64, opts ...func(*Config)) *harness {
	t.Helper()
	fast := newFakeBackend(t, fastConf)
	slow := newFakeBackend(t, map[string]float64{"primary": 0.99, "secondary": 0.98, "tertiary": 0.97})

	fastCfg := backend.FastDefaults()
	fastCfg.URL = fast.srv.URL
	slowCfg := backend.SlowDefaults()
	slowCfg.URL = slow.srv.URL
	slowCfg.MaxRetries = 0

	store, err := thresholds.NewStore(models.DefaultThresholds())
	require.NoError(t, err)

	ctrl := orchestrator.New(backend.NewFast(fastCfg), backend.NewSlow(slowCfg), store)
	cfg := Config{Classifier: ctrl, Thresholds: store}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &harness{server: NewServer(cfg), fast: fast, slow: slow, store: store}
}

func confident() map[string]float64 {
	return map[string]float64{"primary": 0.95, "secondary": 0.95, "tertiary": 0.95}
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, confident())

	rec := do(t, h.server, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["self"])
	assert.Equal(t, "closed", health["fast_backend"])
	assert.Equal(t, "closed", health["slow_backend"])
	assert.NotContains(t, health, "database")
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthEndpoint_Database(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"reachable", nil, "ok"},
		{"unreachable", errors.New("connection refused"), "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, confident(), func(c *Config) {
				c.Database = pingerFunc(func(context.Context) error { return tt.err })
			})

			rec := do(t, h.server, http.MethodGet, "/health", "")
			assert.Equal(t, http.StatusOK, rec.Code)

			var health orchestrator.Health
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
			assert.Equal(t, "ok", health.Self)
			assert.Equal(t, tt.want, health.Database)
		})
	}
}

func TestCORS(t *testing.T) {
	h := newHarness(t, confident())

	t.Run("OPTIONS request returns 200", func(t *testing.T) {
		rec := do(t, h.server, http.MethodOptions, "/api/classify", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("CORS headers on regular request", func(t *testing.T) {
		rec := do(t, h.server, http.MethodGet, "/api/thresholds", "")
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestClassify(t *testing.T) {
	t.Run("no escalation", func(t *testing.T) {
		h := newHarness(t, confident())
		rec := do(t, h.server, http.MethodPost, "/api/classify",
			`{"text":"invoice","requested_levels":["primary","secondary","tertiary"]}`,
			"X-Request-ID", "req-42")

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

		var res models.ClassificationResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, "req-42", res.RequestID)
		assert.Len(t, res.Predictions, 3)
		assert.False(t, res.Analysis.TriggeredSlow)
		assert.Equal(t, int32(0), h.slow.calls.Load())
		assert.Equal(t, int64(1), res.Thresholds.Version)
	})

	t.Run("secondary escalates", func(t *testing.T) {
		h := newHarness(t, map[string]float64{"primary": 0.95, "secondary": 0.80, "tertiary": 0.85})
		rec := do(t, h.server, http.MethodPost, "/api/classify",
			`{"text":"invoice","requested_levels":["tertiary","primary","secondary"]}`)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res models.ClassificationResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		require.Len(t, res.Predictions, 3)
		assert.Equal(t, models.SourceFast, res.Predictions[0].Source)
		assert.Equal(t, models.SourceSlow, res.Predictions[1].Source)
		assert.Equal(t, models.SourceSlow, res.Predictions[2].Source)
		assert.Equal(t, "why", res.Predictions[1].Reasoning)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("slow down degrades", func(t *testing.T) {
		h := newHarness(t, map[string]float64{"primary": 0.50, "secondary": 0.50, "tertiary": 0.50})
		h.slow.status = http.StatusInternalServerError
		rec := do(t, h.server, http.MethodPost, "/api/classify",
			`{"text":"invoice","requested_levels":["primary","secondary"]}`)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res models.ClassificationResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.Degraded)
		for _, p := range res.Predictions {
			assert.Equal(t, models.SourceFast, p.Source)
			assert.True(t, p.Degraded)
		}
	})

	t.Run("both down", func(t *testing.T) {
		h := newHarness(t, confident())
		h.fast.status = http.StatusBadGateway
		h.slow.status = http.StatusBadGateway
		rec := do(t, h.server, http.MethodPost, "/api/classify",
			`{"text":"invoice","requested_levels":["primary"]}`)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "error")
	})

	t.Run("validation", func(t *testing.T) {
		h := newHarness(t, confident())
		tests := []struct {
			name string
			body string
		}{
			{"bad json", `{`},
			{"empty text", `{"text":"","requested_levels":["primary"]}`},
			{"gap in levels", `{"text":"x","requested_levels":["primary","tertiary"]}`},
			{"bad override", `{"text":"x","requested_levels":["primary"],"thresholds":{"primary":1.5}}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := do(t, h.server, http.MethodPost, "/api/classify", tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
		assert.Equal(t, int32(0), h.fast.calls.Load())
	})

	t.Run("deadline", func(t *testing.T) {
		h := newHarness(t, confident(), func(c *Config) { c.RequestTimeout = 50 * time.Millisecond })
		h.fast.delay = 2 * time.Second
		rec := do(t, h.server, http.MethodPost, "/api/classify",
			`{"text":"invoice","requested_levels":["primary"]}`)

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Equal(t, int32(0), h.slow.calls.Load())
	})
}

func TestClassify_HangingSlowBackendDegradesWithinDerivedDeadline(t *testing.T) {
	fast := newFakeBackend(t, map[string]float64{"primary": 0.95, "secondary": 0.5, "tertiary": 0.9})
	slow := newFakeBackend(t, nil)
	slow.delay = 10 * time.Second

	// Default timeout and retry ratios, scaled down.
	fastCfg := backend.FastDefaults()
	fastCfg.URL = fast.srv.URL
	fastCfg.Timeout = 30 * time.Millisecond
	slowCfg := backend.SlowDefaults()
	slowCfg.URL = slow.srv.URL
	slowCfg.Timeout = 120 * time.Millisecond
	slowCfg.RetryBaseDelay = 5 * time.Millisecond

	store, err := thresholds.NewStore(models.DefaultThresholds())
	require.NoError(t, err)
	ctrl := orchestrator.New(backend.NewFast(fastCfg), backend.NewSlow(slowCfg), store)
	server := NewServer(Config{
		Classifier:     ctrl,
		Thresholds:     store,
		RequestTimeout: config.RequestBudget(fastCfg, slowCfg),
	})

	rec := do(t, server, http.MethodPost, "/api/classify",
		`{"text":"invoice","requested_levels":["primary","secondary","tertiary"]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int32(slowCfg.MaxRetries+1), slow.calls.Load())

	var res models.ClassificationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Degraded)
	require.Len(t, res.Predictions, 3)
	assert.False(t, res.Predictions[0].Degraded)
	assert.True(t, res.Predictions[1].Degraded)
	assert.True(t, res.Predictions[2].Degraded)
}

func TestClassifyStream(t *testing.T) {
	h := newHarness(t, confident())
	srv := httptest.NewServer(h.server)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/classify/stream", "application/json",
		bytes.NewBufferString(`{"text":"invoice","requested_levels":["primary"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	body := buf.String()
	assert.Contains(t, body, "event: state")
	assert.Contains(t, body, `"state":"fast_called"`)
	assert.Contains(t, body, "event: done")
}

func TestThresholds(t *testing.T) {
	h := newHarness(t, confident())

	rec := do(t, h.server, http.MethodGet, "/api/thresholds", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg models.ThresholdConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, 0.90, cfg.Primary)

	rec = do(t, h.server, http.MethodPatch, "/api/thresholds", `{"secondary":0.7,"updated_by":"ops"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, 0.90, cfg.Primary)
	assert.Equal(t, 0.7, cfg.Secondary)
	assert.Equal(t, int64(2), cfg.Version)
	assert.Equal(t, "ops", cfg.UpdatedBy)

	rec = do(t, h.server, http.MethodPatch, "/api/thresholds", `{"tertiary":0.1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api", h.store.Get().UpdatedBy)

	t.Run("invalid update is atomic", func(t *testing.T) {
		before := h.store.Get()
		rec := do(t, h.server, http.MethodPatch, "/api/thresholds", `{"primary":0.5,"secondary":-1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, before, h.store.Get())
	})

	t.Run("empty update", func(t *testing.T) {
		rec := do(t, h.server, http.MethodPatch, "/api/thresholds", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("history without database", func(t *testing.T) {
		rec := do(t, h.server, http.MethodGet, "/api/thresholds/history", "")
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})

	t.Run("history bad limit", func(t *testing.T) {
		rec := do(t, h.server, http.MethodGet, "/api/thresholds/history?limit=abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// historyStore serves a fixed history.
type historyStore struct {
	*thresholds.Store
	limit int
}

func (s *historyStore) History(_ context.Context, limit int) ([]models.ThresholdConfig, error) {
	s.limit = limit
	return []models.ThresholdConfig{{Version: 3}, {Version: 2}}, nil
}

func TestThresholdHistory(t *testing.T) {
	base, err := thresholds.NewStore(models.DefaultThresholds())
	require.NoError(t, err)
	hs := &historyStore{Store: base}
	h := newHarness(t, confident(), func(c *Config) { c.Thresholds = hs })

	rec := do(t, h.server, http.MethodGet, "/api/thresholds/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, hs.limit)

	var body struct {
		History []models.ThresholdConfig `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.History, 2)
	assert.Equal(t, int64(3), body.History[0].Version)

	do(t, h.server, http.MethodGet, "/api/thresholds/history", "")
	assert.Equal(t, defaultHistoryLimit, hs.limit)
}

func TestThresholds_Auth(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	verifier := auth.NewStaticVerifier("https://auth.example.com", "", &key.PublicKey)

	h := newHarness(t, confident(), func(c *Config) { c.AuthVerifier = verifier })

	rec := do(t, h.server, http.MethodPatch, "/api/thresholds", `{"primary":0.5}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.SignTestToken(key, "https://auth.example.com", auth.NewTestClaims("user_1", "ops@example.com"))
	require.NoError(t, err)
	rec = do(t, h.server, http.MethodPatch, "/api/thresholds", `{"primary":0.5}`, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	token, err = auth.SignTestToken(key, "https://auth.example.com",
		auth.NewTestClaims("user_1", "ops@example.com", auth.PermissionWriteThresholds))
	require.NoError(t, err)
	rec = do(t, h.server, http.MethodPatch, "/api/thresholds", `{"primary":0.5,"updated_by":"spoofed"}`, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ops@example.com", h.store.Get().UpdatedBy)

	rec = do(t, h.server, http.MethodGet, "/api/thresholds", "")
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay public")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &models.ValidationError{Field: "text", Message: "empty"}, http.StatusBadRequest},
		{"unavailable", orchestrator.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"canceled", context.Canceled, StatusClientClosedRequest},
		{"version conflict", fmt.Errorf("failed to persist thresholds: %w", thresholds.ErrVersionConflict), http.StatusConflict},
		{"other", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

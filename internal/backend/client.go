// Package backend wraps the fast and slow classification services behind a
// uniform, failure-isolated client.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kamilpajak/cascade/internal/breaker"
	"github.com/kamilpajak/cascade/pkg/models"
	"golang.org/x/time/rate"
)

// Defaults per backend.
const (
	DefaultFastTimeout    = 30 * time.Second
	DefaultSlowTimeout    = 120 * time.Second
	DefaultFastMaxRetries = 0
	DefaultSlowMaxRetries = 2
	DefaultRetryBaseDelay = 500 * time.Millisecond

	maxRetryDelay  = 10 * time.Second
	maxErrorBody   = 512
	maxResponseLen = 1 << 20
)

// Config describes one backend endpoint.
type Config struct {
	URL            string         `yaml:"url"`
	Timeout        time.Duration  `yaml:"timeout"`
	MaxRetries     int            `yaml:"max_retries"`
	RetryBaseDelay time.Duration  `yaml:"retry_base_delay"`
	RateLimit      float64        `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst          int            `yaml:"burst"`
	Breaker        breaker.Config `yaml:"breaker"`
}

// FastDefaults returns the fast backend's default config.
func FastDefaults() Config {
	return Config{
		Timeout:        DefaultFastTimeout,
		MaxRetries:     DefaultFastMaxRetries,
		RetryBaseDelay: DefaultRetryBaseDelay,
		Breaker:        breaker.Config{FailureThreshold: breaker.DefaultFailureThreshold, Cooldown: breaker.DefaultCooldown},
	}
}

// SlowDefaults returns the slow backend's default config.
func SlowDefaults() Config {
	return Config{
		Timeout:        DefaultSlowTimeout,
		MaxRetries:     DefaultSlowMaxRetries,
		RetryBaseDelay: DefaultRetryBaseDelay,
		Breaker:        breaker.Config{FailureThreshold: breaker.DefaultFailureThreshold, Cooldown: breaker.DefaultCooldown},
	}
}

// Client calls one classification backend. It is safe for concurrent use.
type Client struct {
	source     models.Source
	cfg        Config
	httpClient *http.Client
	breaker    *breaker.Breaker
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBreaker replaces the circuit breaker, e.g. to inject a test clock.
func WithBreaker(b *breaker.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// Budget is the longest a Classify call can take with this config: every
// attempt running to its timeout plus the largest possible backoff waits.
func (cfg Config) Budget() time.Duration {
	retries := max(cfg.MaxRetries, 0)
	total := cfg.Timeout * time.Duration(retries+1)
	interval := float64(cfg.RetryBaseDelay)
	for range retries {
		wait := min(interval, float64(maxRetryDelay)) * (1 + backoff.DefaultRandomizationFactor)
		total += time.Duration(wait)
		interval *= backoff.DefaultMultiplier
	}
	return total
}

// New creates a client for the given backend.
func New(source models.Source, cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFastTimeout
		if source == models.SourceSlow {
			cfg.Timeout = DefaultSlowTimeout
		}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}

	c := &Client{
		source:     source,
		cfg:        cfg,
		httpClient: &http.Client{},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = breaker.New(string(source), cfg.Breaker)
	}
	return c
}

// NewFast creates the fast backend client.
func NewFast(cfg Config, opts ...Option) *Client {
	return New(models.SourceFast, cfg, opts...)
}

// NewSlow creates the slow backend client.
func NewSlow(cfg Config, opts ...Option) *Client {
	return New(models.SourceSlow, cfg, opts...)
}

// Source identifies the backend.
func (c *Client) Source() models.Source {
	return c.source
}

// Breaker returns the breaker's current state.
func (c *Client) Breaker() breaker.Snapshot {
	return c.breaker.Snapshot()
}

// Classify asks the backend to label text at the given levels. prior carries
// already-accepted ancestor labels and is only sent when non-empty.
//
// The breaker is consulted before any network activity and told the
// outcome exactly once, however many retries were made.
func (c *Client) Classify(ctx context.Context, text string, levels []models.Level, prior map[models.Level]string) (*Result, error) {
	ticket, err := c.breaker.Allow()
	if err != nil {
		return nil, &Error{Backend: c.source, Kind: ErrCircuitOpen, Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.breaker.Release(ticket)
			return nil, &Error{Backend: c.source, Kind: ErrCanceled, Err: err}
		}
	}

	body, err := json.Marshal(classifyRequest{Text: text, Levels: levels, Context: prior})
	if err != nil {
		c.breaker.Release(ticket)
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	attempts := 0
	var preds []models.LevelPrediction
	op := func() error {
		attempts++
		p, err := c.attempt(ctx, body, levels)
		if err == nil {
			preds = p
			return nil
		}
		if ctx.Err() == nil && isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("retrying backend call",
			"backend", c.source, "attempt", attempts, "wait", wait, "error", err)
	}

	err = backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)
	if err == nil {
		c.breaker.Success(ticket)
		return &Result{Predictions: preds, Attempts: attempts}, nil
	}

	var be *Error
	if !errors.As(err, &be) {
		// backoff returns ctx.Err() when cancelled between attempts.
		be = &Error{Backend: c.source, Kind: ErrCanceled, Err: err}
	}
	be.Attempts = attempts

	if ctx.Err() != nil {
		c.breaker.Release(ticket)
		if !errors.Is(be, ErrCanceled) {
			be = &Error{Backend: c.source, Attempts: attempts, Kind: ErrCanceled, Err: ctx.Err()}
		}
		return nil, be
	}
	c.breaker.Failure(ticket)
	return nil, be
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBaseDelay
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries))
}

// attempt performs a single HTTP round trip under the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, body []byte, levels []models.Level) ([]models.LevelPrediction, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Backend: c.source, Kind: ErrTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &Error{
			Backend:    c.source,
			Kind:       ErrResponse,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s - %s", resp.Status, snippet),
		}
	}

	var parsed classifyResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &Error{Backend: c.source, Kind: ErrMalformed, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	preds, err := c.validate(parsed, levels)
	if err != nil {
		return nil, &Error{Backend: c.source, Kind: ErrMalformed, Err: err}
	}
	return preds, nil
}

func (c *Client) transportError(ctx, attemptCtx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return &Error{Backend: c.source, Kind: ErrCanceled, Err: ctx.Err()}
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return &Error{Backend: c.source, Kind: ErrTimeout, Err: fmt.Errorf("no response within %s", c.cfg.Timeout)}
	default:
		return &Error{Backend: c.source, Kind: ErrTransport, Err: err}
	}
}

// validate requires one in-range prediction per requested level and returns
// them in request order. Extra levels are ignored.
func (c *Client) validate(resp classifyResponse, levels []models.Level) ([]models.LevelPrediction, error) {
	preds := make([]models.LevelPrediction, 0, len(levels))
	for _, l := range levels {
		wp, ok := resp[string(l)]
		if !ok {
			return nil, fmt.Errorf("missing prediction for level %s", l)
		}
		if wp.Confidence == nil {
			return nil, fmt.Errorf("level %s: missing confidence", l)
		}
		p := models.LevelPrediction{
			Level:      l,
			Label:      wp.Label,
			Confidence: *wp.Confidence,
			Source:     c.source,
		}
		if c.source == models.SourceSlow {
			p.Reasoning = wp.Reasoning
		}
		if err := p.Check(); err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

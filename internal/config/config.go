// Package config loads cascade's configuration from defaults, an optional
// YAML file and CASCADE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kamilpajak/cascade/internal/backend"
	"github.com/kamilpajak/cascade/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all cascade configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Fast       backend.Config   `yaml:"fast"`
	Slow       backend.Config   `yaml:"slow"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigin   string        `yaml:"allowed_origin"`
}

// ThresholdsConfig holds the thresholds used until the first update.
type ThresholdsConfig struct {
	Primary   float64 `yaml:"primary"`
	Secondary float64 `yaml:"secondary"`
	Tertiary  float64 `yaml:"tertiary"`
}

// DatabaseConfig enables threshold persistence when URL is set.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig enables bearer auth on threshold updates when Domain is set.
type AuthConfig struct {
	Domain   string `yaml:"domain"`
	Audience string `yaml:"audience"`
}

// LogConfig selects the slog handler and level.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// requestSlack is added to the backend budgets when deriving the request
// deadline, leaving room to aggregate a degraded result.
const requestSlack = 5 * time.Second

// RequestBudget is the default request deadline for a pair of backends: the
// worst-case fast call followed by the worst-case slow call, plus slack.
func RequestBudget(fast, slow backend.Config) time.Duration {
	return fast.Budget() + slow.Budget() + requestSlack
}

// Default returns the built-in configuration.
func Default() Config {
	cfg := defaults()
	cfg.resolve()
	return cfg
}

// defaults leaves derived fields zero so Load can fill them after the file
// and environment have been applied.
func defaults() Config {
	th := models.DefaultThresholds()
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigin:   "*",
		},
		Fast: backend.FastDefaults(),
		Slow: backend.SlowDefaults(),
		Thresholds: ThresholdsConfig{
			Primary:   th.Primary,
			Secondary: th.Secondary,
			Tertiary:  th.Tertiary,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.resolve()
	return cfg, nil
}

// resolve derives the request deadline from the backend budgets when it
// was not set explicitly.
func (c *Config) resolve() {
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = RequestBudget(c.Fast, c.Slow)
	}
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		*dst = getenv(key, *dst)
	}
	float := func(key string, dst *float64) {
		v, err := getenvFloat(key, *dst)
		errs = append(errs, err)
		*dst = v
	}
	integer := func(key string, dst *int) {
		v, err := getenvInt(key, *dst)
		errs = append(errs, err)
		*dst = v
	}
	duration := func(key string, dst *time.Duration) {
		v, err := getenvDuration(key, *dst)
		errs = append(errs, err)
		*dst = v
	}

	str("CASCADE_PORT", &c.Server.Port)
	duration("CASCADE_REQUEST_TIMEOUT", &c.Server.RequestTimeout)
	str("CASCADE_ALLOWED_ORIGIN", &c.Server.AllowedOrigin)

	for _, b := range []struct {
		prefix string
		cfg    *backend.Config
	}{
		{"CASCADE_FAST_", &c.Fast},
		{"CASCADE_SLOW_", &c.Slow},
	} {
		str(b.prefix+"URL", &b.cfg.URL)
		duration(b.prefix+"TIMEOUT", &b.cfg.Timeout)
		integer(b.prefix+"MAX_RETRIES", &b.cfg.MaxRetries)
		duration(b.prefix+"RETRY_BASE_DELAY", &b.cfg.RetryBaseDelay)
		float(b.prefix+"RATE_LIMIT", &b.cfg.RateLimit)
		integer(b.prefix+"BURST", &b.cfg.Burst)
		integer(b.prefix+"BREAKER_FAILURES", &b.cfg.Breaker.FailureThreshold)
		duration(b.prefix+"BREAKER_COOLDOWN", &b.cfg.Breaker.Cooldown)
	}

	float("CASCADE_THRESHOLD_PRIMARY", &c.Thresholds.Primary)
	float("CASCADE_THRESHOLD_SECONDARY", &c.Thresholds.Secondary)
	float("CASCADE_THRESHOLD_TERTIARY", &c.Thresholds.Tertiary)

	// Plain DATABASE_URL is accepted too; CASCADE_DATABASE_URL wins.
	c.Database.URL = getenv("DATABASE_URL", c.Database.URL)
	str("CASCADE_DATABASE_URL", &c.Database.URL)
	str("CASCADE_AUTH_DOMAIN", &c.Auth.Domain)
	str("CASCADE_AUTH_AUDIENCE", &c.Auth.Audience)
	str("CASCADE_LOG_LEVEL", &c.Log.Level)
	str("CASCADE_LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

// ThresholdConfig converts the configured defaults to a store snapshot.
func (c Config) ThresholdConfig() models.ThresholdConfig {
	th := models.DefaultThresholds()
	th.Primary = c.Thresholds.Primary
	th.Secondary = c.Thresholds.Secondary
	th.Tertiary = c.Thresholds.Tertiary
	return th
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	for _, b := range []struct {
		name string
		cfg  backend.Config
	}{
		{"fast", c.Fast},
		{"slow", c.Slow},
	} {
		if b.cfg.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", b.name))
		}
		if b.cfg.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must be positive", b.name))
		}
		if b.cfg.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("%s.max_retries must not be negative", b.name))
		}
		if b.cfg.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("%s.rate_limit must not be negative", b.name))
		}
		if b.cfg.Breaker.FailureThreshold <= 0 {
			errs = append(errs, fmt.Errorf("%s.breaker.failure_threshold must be positive", b.name))
		}
		if b.cfg.Breaker.Cooldown <= 0 {
			errs = append(errs, fmt.Errorf("%s.breaker.cooldown must be positive", b.name))
		}
	}
	if err := c.ThresholdConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("thresholds: %w", err))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	// A shorter deadline would cut off slow retries and turn a degraded
	// result into a timeout.
	if minimum := c.Fast.Budget() + c.Slow.Budget(); c.Server.RequestTimeout < minimum {
		errs = append(errs, fmt.Errorf("server.request_timeout %s is shorter than the backend budget %s", c.Server.RequestTimeout, minimum))
	}
	return errors.Join(errs...)
}

// YAML renders the configuration as it would be read back by Load.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return f, nil
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

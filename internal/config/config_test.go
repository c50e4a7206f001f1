package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cascade.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Fast.Timeout)
	assert.Equal(t, 0, cfg.Fast.MaxRetries)
	assert.Equal(t, 120*time.Second, cfg.Slow.Timeout)
	assert.Equal(t, 2, cfg.Slow.MaxRetries)
	assert.Equal(t, 5, cfg.Slow.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Slow.Breaker.Cooldown)
	assert.Equal(t, 0.90, cfg.Thresholds.Primary)
	assert.Equal(t, 0.85, cfg.Thresholds.Secondary)
	assert.Equal(t, 0.80, cfg.Thresholds.Tertiary)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fast.url is required")
	assert.Contains(t, err.Error(), "slow.url is required")
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeFile(t, `
server:
  port: "9090"
fast:
  url: http://fast:8000/classify
  timeout: 5s
  breaker:
    failure_threshold: 3
slow:
  url: http://slow:8000/classify
  rate_limit: 2.5
thresholds:
  secondary: 0.7
log:
  format: json
`)
	t.Setenv("CASCADE_SLOW_MAX_RETRIES", "4")
	t.Setenv("CASCADE_THRESHOLD_TERTIARY", "0.6")
	t.Setenv("CASCADE_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "7070", cfg.Server.Port, "env overrides file")
	assert.Equal(t, 5*time.Second, cfg.Fast.Timeout)
	assert.Equal(t, 3, cfg.Fast.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Fast.Breaker.Cooldown, "unset keys keep defaults")
	assert.Equal(t, 2.5, cfg.Slow.RateLimit)
	assert.Equal(t, 4, cfg.Slow.MaxRetries)
	assert.Equal(t, 120*time.Second, cfg.Slow.Timeout)
	assert.Equal(t, "json", cfg.Log.Format)

	th := cfg.ThresholdConfig()
	assert.Equal(t, 0.90, th.Primary)
	assert.Equal(t, 0.7, th.Secondary)
	assert.Equal(t, 0.6, th.Tertiary)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "fast: [oops"))
		assert.Error(t, err)
	})
	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("CASCADE_FAST_TIMEOUT", "soon")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CASCADE_FAST_TIMEOUT")
	})
}

func TestLoad_RequestTimeoutCoversBackends(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	worstCase := cfg.Fast.Timeout + 3*cfg.Slow.Timeout
	assert.Greater(t, cfg.Server.RequestTimeout, worstCase)
	assert.Equal(t, RequestBudget(cfg.Fast, cfg.Slow), cfg.Server.RequestTimeout)

	t.Run("follows backend overrides", func(t *testing.T) {
		t.Setenv("CASCADE_SLOW_MAX_RETRIES", "4")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Greater(t, cfg.Server.RequestTimeout, cfg.Fast.Timeout+5*cfg.Slow.Timeout)
	})

	t.Run("explicit value is kept", func(t *testing.T) {
		t.Setenv("CASCADE_REQUEST_TIMEOUT", "20m")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 20*time.Minute, cfg.Server.RequestTimeout)
	})
}

func TestLoad_DatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://a")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://a", cfg.Database.URL)

	t.Setenv("CASCADE_DATABASE_URL", "postgres://b")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://b", cfg.Database.URL)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Fast.URL = "http://fast"
		cfg.Slow.URL = "http://slow"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold out of range", func(c *Config) { c.Thresholds.Primary = 1.5 }, "thresholds"},
		{"zero timeout", func(c *Config) { c.Slow.Timeout = 0 }, "slow.timeout"},
		{"negative retries", func(c *Config) { c.Fast.MaxRetries = -1 }, "fast.max_retries"},
		{"zero breaker threshold", func(c *Config) { c.Fast.Breaker.FailureThreshold = 0 }, "fast.breaker.failure_threshold"},
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"request timeout below backend budget", func(c *Config) { c.Server.RequestTimeout = 150 * time.Second }, "server.request_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestYAML_RoundTrip(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg := Default()
	cfg.Fast.URL = "http://fast"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "timeout: 30s")

	back, err := Load(writeFile(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

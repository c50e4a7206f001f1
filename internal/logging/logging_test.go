package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json", slog.LevelInfo)

	logger.Info("classification complete", "request_id", "abc")
	logger.Debug("hidden")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "classification complete", m["msg"])
	assert.Equal(t, "abc", m["request_id"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "text", slog.LevelDebug)

	logger.Debug("state", "state", "fast_called")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "state=fast_called")
}

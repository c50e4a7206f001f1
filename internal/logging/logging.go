// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init sets the default slog logger. Format "json" selects the JSON handler,
// anything else the text handler. Output goes to stderr so CLI results on
// stdout stay clean.
func Init(format string, level slog.Level) {
	slog.SetDefault(New(os.Stderr, format, level))
}

// New builds a logger writing to w.
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts "debug", "info", "warn" or "error" to a slog.Level.
// Unknown strings default to LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

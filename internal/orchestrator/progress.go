package orchestrator

import (
	"fmt"
	"io"
	"strings"

	"github.com/kamilpajak/cascade/pkg/models"
)

// Progress event types.
const (
	EventState = "state"
	EventCall  = "call"
	EventDone  = "done"
	EventError = "error"
)

// ProgressEvent represents a single progress update during classification.
type ProgressEvent struct {
	Type      string                       `json:"type"`                 // "state", "call", "done", "error"
	RequestID string                       `json:"request_id,omitempty"` // set on every controller event
	State     State                        `json:"state,omitempty"`      // state entered, for "state"
	Backend   models.Source                `json:"backend,omitempty"`    // backend about to be called, for "call"
	Levels    []models.Level               `json:"levels,omitempty"`     // levels sent to the backend
	Message   string                       `json:"message,omitempty"`    // human-readable message
	Result    *models.ClassificationResult `json:"result,omitempty"`     // final result, for "done"
}

// ProgressEmitter receives progress events during classification.
type ProgressEmitter interface {
	Emit(event ProgressEvent)
}

// TextEmitter formats progress events as human-readable text for CLI output.
type TextEmitter struct {
	W io.Writer
}

// Emit writes a formatted progress line to the underlying writer.
func (e *TextEmitter) Emit(ev ProgressEvent) {
	switch ev.Type {
	case EventState:
		fmt.Fprintf(e.W, "[%s] %s", ev.RequestID, ev.State)
		if ev.Message != "" {
			fmt.Fprintf(e.W, ": %s", ev.Message)
		}
		fmt.Fprintln(e.W)
	case EventCall:
		fmt.Fprintf(e.W, "[%s]   calling %s backend for %s\n", ev.RequestID, ev.Backend, joinLevels(ev.Levels))
	case EventError:
		fmt.Fprintf(e.W, "Error: %s\n", ev.Message)
	}
}

func joinLevels(levels []models.Level) string {
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = string(l)
	}
	return strings.Join(names, ", ")
}

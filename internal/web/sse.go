// Package web streams classification progress to HTTP clients as
// Server-Sent Events.
package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/kamilpajak/cascade/internal/orchestrator"
)

// SSEEmitter implements orchestrator.ProgressEmitter by writing Server-Sent
// Events.
type SSEEmitter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEEmitter creates an SSEEmitter for the given ResponseWriter.
// Returns nil if the writer does not support flushing.
func NewSSEEmitter(w http.ResponseWriter) *SSEEmitter {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	return &SSEEmitter{w: w, flusher: f}
}

// Emit writes a progress event as an SSE message named after its type and
// flushes.
func (e *SSEEmitter) Emit(ev orchestrator.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, data)
	e.flusher.Flush()
}

package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kamilpajak/cascade/internal/orchestrator"
	"github.com/kamilpajak/cascade/pkg/models"
)

const maxBodyBytes = 1 << 20

// Classifier runs a request while reporting progress.
type Classifier interface {
	ClassifyWithProgress(ctx context.Context, req models.ClassificationRequest, emitter orchestrator.ProgressEmitter) (*models.ClassificationResult, error)
}

// Handler serves the streaming classification endpoint.
type Handler struct {
	classifier Classifier
}

// NewHandler creates a streaming handler over c.
func NewHandler(c Classifier) *Handler {
	return &Handler{classifier: c}
}

// ServeHTTP decodes a ClassificationRequest, validates it, then streams one
// event per controller transition followed by a "done" or "error" event.
// Requests that fail validation get a plain 400 before the stream opens.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req models.ClassificationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("X-Request-ID")
	}
	if _, err := req.Normalize(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	emitter := NewSSEEmitter(w)
	if emitter == nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	result, err := h.classifier.ClassifyWithProgress(r.Context(), req, emitter)
	if err != nil {
		slog.Warn("streamed classification failed", "request_id", req.RequestID, "error", err)
		emitter.Emit(orchestrator.ProgressEvent{Type: orchestrator.EventError, RequestID: req.RequestID, Message: err.Error()})
		return
	}
	emitter.Emit(orchestrator.ProgressEvent{Type: orchestrator.EventDone, RequestID: result.RequestID, Result: result})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

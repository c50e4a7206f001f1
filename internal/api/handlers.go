package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kamilpajak/cascade/internal/auth"
	"github.com/kamilpajak/cascade/internal/orchestrator"
	"github.com/kamilpajak/cascade/internal/thresholds"
	"github.com/kamilpajak/cascade/pkg/models"
)

// StatusClientClosedRequest is reported when the caller went away before
// the result was ready.
const StatusClientClosedRequest = 499

const defaultHistoryLimit = 50

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req models.ClassificationRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("X-Request-ID")
	}

	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	result, err := s.classifier.Classify(ctx, req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			slog.Error("classification failed", "request_id", req.RequestID, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.thresholds.Get())
}

// thresholdUpdateRequest is the PATCH body. UpdatedBy is ignored when the
// caller is authenticated.
type thresholdUpdateRequest struct {
	models.ThresholdUpdate
	UpdatedBy string `json:"updated_by,omitempty"`
}

func (s *Server) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdUpdateRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updatedBy := auth.Actor(r.Context())
	if updatedBy == "" {
		updatedBy = req.UpdatedBy
	}
	if updatedBy == "" {
		updatedBy = "api"
	}

	cfg, err := s.thresholds.Update(r.Context(), req.ThresholdUpdate, updatedBy)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			slog.Error("threshold update failed", "updated_by", updatedBy, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleThresholdHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	history, err := s.thresholds.History(r.Context(), limit)
	if errors.Is(err, thresholds.ErrNoHistory) {
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to list threshold history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list threshold history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// statusFor maps an orchestrator or store error to an HTTP status.
func statusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, thresholds.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

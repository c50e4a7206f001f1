// Package orchestrator sequences the fast and slow classification backends
// for one request and owns the fallback policy between them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kamilpajak/cascade/internal/aggregator"
	"github.com/kamilpajak/cascade/internal/backend"
	"github.com/kamilpajak/cascade/internal/breaker"
	"github.com/kamilpajak/cascade/internal/evaluator"
	"github.com/kamilpajak/cascade/pkg/models"
)

// ErrServiceUnavailable is returned when neither backend produced data for
// the requested levels.
var ErrServiceUnavailable = errors.New("service unavailable: no backend could classify the request")

// Classifier is a backend the controller can call.
type Classifier interface {
	Classify(ctx context.Context, text string, levels []models.Level, prior map[models.Level]string) (*backend.Result, error)
	Source() models.Source
	Breaker() breaker.Snapshot
}

// ThresholdResolver supplies the thresholds for a request.
type ThresholdResolver interface {
	Resolve(override *models.ThresholdUpdate) models.ThresholdConfig
}

// Controller runs classification requests. It holds no per-request state
// and is safe for concurrent use.
type Controller struct {
	fast       Classifier
	slow       Classifier
	thresholds ThresholdResolver
	now        func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source used for elapsed times.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates a controller over the two backends.
func New(fast, slow Classifier, thresholds ThresholdResolver, opts ...Option) *Controller {
	c := &Controller{fast: fast, slow: slow, thresholds: thresholds, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify runs one request to completion.
func (c *Controller) Classify(ctx context.Context, req models.ClassificationRequest) (*models.ClassificationResult, error) {
	return c.ClassifyWithProgress(ctx, req, nil)
}

// ClassifyWithProgress runs one request and reports each state transition
// and backend call to emitter, if set.
//
// The fast backend is always tried first. If it fails, every requested level
// goes to the slow backend. If the slow backend then fails too the request
// fails with ErrServiceUnavailable; if only the slow backend fails, the
// affected levels fall back to their fast predictions and are marked
// degraded.
func (c *Controller) ClassifyWithProgress(ctx context.Context, req models.ClassificationRequest, emitter ProgressEmitter) (*models.ClassificationResult, error) {
	start := c.now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := slog.With("request_id", requestID)

	emit := func(ev ProgressEvent) {
		ev.RequestID = requestID
		if emitter != nil {
			emitter.Emit(ev)
		}
	}
	m := newMachine(func(s State) {
		log.Debug("classification state", "state", s)
		emit(ProgressEvent{Type: EventState, State: s})
	})
	fail := func(err error) (*models.ClassificationResult, error) {
		_ = m.to(StateErrored)
		log.Info("classification failed", "error", err, "states", m.history)
		return nil, err
	}

	levels, err := req.Normalize()
	if err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("classification cancelled: %w", err))
	}

	ctx = backend.WithRequestID(ctx, requestID)
	th := c.thresholds.Resolve(req.Thresholds)

	var reports []models.ServiceCallReport
	var analysis models.ConfidenceAnalysis

	emit(ProgressEvent{Type: EventCall, Backend: c.fast.Source(), Levels: levels})
	fastRes, report, fastErr := c.call(ctx, c.fast, req.Text, levels, nil)
	reports = append(reports, report)
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("classification cancelled: %w", err))
	}

	var decision evaluator.Decision
	var fastPreds []models.LevelPrediction
	if fastErr != nil {
		log.Warn("fast backend unavailable, escalating all levels", "error", fastErr)
		analysis.FastUnavailable = true
		decision = evaluator.EscalateAll(levels)
		if err := m.to(StateEscalationNeeded); err != nil {
			return fail(err)
		}
	} else {
		fastPreds = fastRes.Predictions
		if err := m.to(StateFastCalled); err != nil {
			return fail(err)
		}
		decision = evaluator.Evaluate(fastPreds, th)
		next := StateNoEscalation
		if decision.Triggered() {
			next = StateEscalationNeeded
		}
		if err := m.to(next); err != nil {
			return fail(err)
		}
	}

	var slowPreds []models.LevelPrediction
	slowFailed := false
	if decision.Triggered() {
		analysis.TriggeredSlow = true
		analysis.TriggerLevel = decision.TriggerLevel
		analysis.LevelsBelowThreshold = decision.Escalate

		emit(ProgressEvent{Type: EventCall, Backend: c.slow.Source(), Levels: decision.Escalate})
		slowRes, report, slowErr := c.call(ctx, c.slow, req.Text, decision.Escalate, decision.Context())
		reports = append(reports, report)
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("classification cancelled: %w", err))
		}
		if err := m.to(StateSlowCalled); err != nil {
			return fail(err)
		}

		if slowErr != nil {
			if fastErr != nil {
				return fail(fmt.Errorf("%w: %w", ErrServiceUnavailable, errors.Join(fastErr, slowErr)))
			}
			log.Warn("slow backend unavailable, falling back to fast predictions",
				"error", slowErr, "levels", decision.Escalate)
			slowFailed = true
		} else {
			slowPreds = slowRes.Predictions
		}
	}
	if analysis.LevelsBelowThreshold == nil {
		analysis.LevelsBelowThreshold = []models.Level{}
	}

	preds := aggregator.Aggregate(aggregator.Input{
		Levels:     levels,
		Fast:       fastPreds,
		Slow:       slowPreds,
		Escalated:  decision.Escalate,
		SlowFailed: slowFailed,
	})
	if len(preds) != len(levels) {
		return fail(fmt.Errorf("%w: %d of %d levels classified", ErrServiceUnavailable, len(preds), len(levels)))
	}
	if err := m.to(StateAggregated); err != nil {
		return fail(err)
	}

	result := &models.ClassificationResult{
		RequestID:    requestID,
		Predictions:  preds,
		Degraded:     slowFailed,
		ElapsedMS:    c.now().Sub(start).Milliseconds(),
		ServiceCalls: reports,
		Analysis:     analysis,
		Thresholds:   th,
	}
	if err := m.to(StateDone); err != nil {
		return fail(err)
	}

	attrs := []any{
		"triggered_slow", analysis.TriggeredSlow,
		"fast_unavailable", analysis.FastUnavailable,
		"degraded", result.Degraded,
		"elapsed_ms", result.ElapsedMS,
	}
	if analysis.TriggerLevel != nil {
		attrs = append(attrs, "trigger_level", *analysis.TriggerLevel)
	}
	log.Info("classification complete", attrs...)
	return result, nil
}

// call invokes one backend and records a report for it.
func (c *Controller) call(ctx context.Context, b Classifier, text string, levels []models.Level, prior map[models.Level]string) (*backend.Result, models.ServiceCallReport, error) {
	started := c.now()
	res, err := b.Classify(ctx, text, levels, prior)

	report := models.ServiceCallReport{
		Backend:      b.Source(),
		Levels:       levels,
		Success:      err == nil,
		DurationMS:   c.now().Sub(started).Milliseconds(),
		CircuitState: b.Breaker().State.String(),
	}
	if err != nil {
		report.Attempts = backend.AttemptsOf(err)
		report.Error = err.Error()
		report.ErrorKind = backend.KindName(err)
	} else {
		report.Attempts = res.Attempts
	}
	return res, report, err
}

// Health is the readiness view of the orchestrator and its backends.
// FastBreaker and SlowBreaker carry the counters behind each state.
type Health struct {
	Self        string           `json:"self"`
	FastBackend breaker.State    `json:"fast_backend"`
	SlowBackend breaker.State    `json:"slow_backend"`
	FastBreaker breaker.Snapshot `json:"fast_breaker"`
	SlowBreaker breaker.Snapshot `json:"slow_breaker"`
	// Database is set by the API when thresholds are persisted.
	Database string `json:"database,omitempty"`
}

// HealthCheck reports the breaker state of both backends. It never calls
// them.
func (c *Controller) HealthCheck() Health {
	fast, slow := c.fast.Breaker(), c.slow.Breaker()
	return Health{
		Self:        "ok",
		FastBackend: fast.State,
		SlowBackend: slow.State,
		FastBreaker: fast,
		SlowBreaker: slow,
	}
}

package models

// ClassificationResult is the orchestrator's answer to one request.
type ClassificationResult struct {
	RequestID    string                 `json:"request_id"`
	Predictions  []AggregatedPrediction `json:"predictions"`
	Degraded     bool                   `json:"degraded"`
	ElapsedMS    int64                  `json:"elapsed_ms"`
	ServiceCalls []ServiceCallReport    `json:"service_calls"`
	Analysis     ConfidenceAnalysis     `json:"confidence_analysis"`
	Thresholds   ThresholdConfig        `json:"thresholds"`
}

// Prediction returns the aggregated prediction for a level, if requested.
func (r *ClassificationResult) Prediction(l Level) (AggregatedPrediction, bool) {
	for _, p := range r.Predictions {
		if p.Level == l {
			return p, true
		}
	}
	return AggregatedPrediction{}, false
}

// ServiceCallReport records one backend invocation for auditing.
type ServiceCallReport struct {
	Backend      Source  `json:"backend"`
	Levels       []Level `json:"levels"`
	Success      bool    `json:"success"`
	Attempts     int     `json:"attempts"`
	DurationMS   int64   `json:"duration_ms"`
	Error        string  `json:"error,omitempty"`
	ErrorKind    string  `json:"error_kind,omitempty"`
	CircuitState string  `json:"circuit_state"`
}

// ConfidenceAnalysis explains why the slow backend was or was not consulted.
type ConfidenceAnalysis struct {
	TriggeredSlow        bool    `json:"triggered_slow"`
	TriggerLevel         *Level  `json:"trigger_level,omitempty"`
	LevelsBelowThreshold []Level `json:"levels_below_threshold"`
	FastUnavailable      bool    `json:"fast_unavailable"`
}

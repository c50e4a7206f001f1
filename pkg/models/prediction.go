package models

import (
	"fmt"
	"math"
)

// LevelPrediction is one backend's answer for a single hierarchy level.
type LevelPrediction struct {
	Level      Level   `json:"level"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
	Reasoning  string  `json:"reasoning,omitempty"` // only ever set by the slow backend
}

// Check verifies the prediction honours the backend contract. Confidence
// outside [0,1] is rejected, never clamped.
func (p LevelPrediction) Check() error {
	if !p.Level.Valid() {
		return fmt.Errorf("unknown level %q", p.Level)
	}
	if p.Label == "" {
		return fmt.Errorf("level %s: empty label", p.Level)
	}
	if !InUnitRange(p.Confidence) {
		return fmt.Errorf("level %s: confidence %v outside [0,1]", p.Level, p.Confidence)
	}
	return nil
}

// InUnitRange reports whether v is a finite number in [0,1].
func InUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// AggregatedPrediction is the final answer for one requested level. The
// embedded prediction is the chosen one; Fast and Slow hold the raw backend
// outputs when they exist and are omitted otherwise.
type AggregatedPrediction struct {
	LevelPrediction
	Degraded bool             `json:"degraded"`
	Fast     *LevelPrediction `json:"fast,omitempty"`
	Slow     *LevelPrediction `json:"slow,omitempty"`
}

// Package evaluator decides which hierarchy levels need the slow backend.
package evaluator

import (
	"slices"

	"github.com/kamilpajak/cascade/pkg/models"
)

// Decision is the outcome of evaluating fast predictions against thresholds.
type Decision struct {
	// Confirmed are the predictions above the trigger level. They are kept
	// regardless of how confident later levels are.
	Confirmed []models.LevelPrediction
	// TriggerLevel is the first level whose confidence fell below its
	// threshold, or nil if none did.
	TriggerLevel *models.Level
	// Escalate lists the trigger level and every level after it.
	Escalate []models.Level
}

// Triggered reports whether the slow backend is needed.
func (d Decision) Triggered() bool {
	return d.TriggerLevel != nil
}

// Context returns the confirmed labels keyed by level, for the slow backend.
func (d Decision) Context() map[models.Level]string {
	if len(d.Confirmed) == 0 {
		return nil
	}
	ctx := make(map[models.Level]string, len(d.Confirmed))
	for _, p := range d.Confirmed {
		ctx[p.Level] = p.Label
	}
	return ctx
}

// Evaluate scans preds in hierarchical order, starting at the highest
// requested level, and stops at the first confidence strictly below its
// threshold.
func Evaluate(preds []models.LevelPrediction, th models.ThresholdConfig) Decision {
	ordered := slices.Clone(preds)
	slices.SortFunc(ordered, func(a, b models.LevelPrediction) int { return a.Level.Rank() - b.Level.Rank() })

	var d Decision
	for i, p := range ordered {
		if p.Confidence < th.For(p.Level) {
			level := p.Level
			d.TriggerLevel = &level
			for _, rest := range ordered[i:] {
				d.Escalate = append(d.Escalate, rest.Level)
			}
			return d
		}
		d.Confirmed = append(d.Confirmed, p)
	}
	return d
}

// EscalateAll is the decision used when the fast backend produced nothing:
// every requested level goes to the slow backend without context.
func EscalateAll(levels []models.Level) Decision {
	ordered := models.SortLevels(levels)
	if len(ordered) == 0 {
		return Decision{}
	}
	first := ordered[0]
	return Decision{TriggerLevel: &first, Escalate: ordered}
}

// Package aggregator merges fast and slow backend output into one
// hierarchical answer.
package aggregator

import "github.com/kamilpajak/cascade/pkg/models"

// Input collects everything known about one request.
type Input struct {
	Levels []models.Level // requested levels, in hierarchical order
	Fast   []models.LevelPrediction
	Slow   []models.LevelPrediction
	// Escalated are the levels that were meant to come from the slow backend.
	Escalated []models.Level
	// SlowFailed marks that the slow call for Escalated did not succeed.
	SlowFailed bool
}

// Aggregate returns one prediction per requested level. Levels with no data
// from either backend are omitted; callers treat that as unavailability.
func Aggregate(in Input) []models.AggregatedPrediction {
	fast := index(in.Fast)
	slow := index(in.Slow)
	escalated := make(map[models.Level]bool, len(in.Escalated))
	for _, l := range in.Escalated {
		escalated[l] = true
	}

	out := make([]models.AggregatedPrediction, 0, len(in.Levels))
	for _, l := range in.Levels {
		f, haveFast := fast[l]
		s, haveSlow := slow[l]

		agg := models.AggregatedPrediction{}
		if haveFast {
			agg.Fast = &f
		}
		if haveSlow {
			agg.Slow = &s
		}

		switch {
		case escalated[l] && haveSlow && !in.SlowFailed:
			agg.LevelPrediction = s
		case haveFast:
			agg.LevelPrediction = f
			agg.Degraded = escalated[l]
		default:
			continue
		}
		out = append(out, agg)
	}
	return out
}

func index(preds []models.LevelPrediction) map[models.Level]models.LevelPrediction {
	m := make(map[models.Level]models.LevelPrediction, len(preds))
	for _, p := range preds {
		m[p.Level] = p
	}
	return m
}

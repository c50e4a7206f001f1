package models

import "strings"

// ClassificationRequest asks for a document to be classified at one or more
// hierarchy levels.
type ClassificationRequest struct {
	RequestID  string           `json:"request_id,omitempty"`
	Text       string           `json:"text"`
	Levels     []Level          `json:"requested_levels"`
	Thresholds *ThresholdUpdate `json:"thresholds,omitempty"`
}

// Normalize validates the request and returns its levels in hierarchical
// order. Levels must be unique and contiguous, but need not start at primary.
func (r ClassificationRequest) Normalize() ([]Level, error) {
	if strings.TrimSpace(r.Text) == "" {
		return nil, &ValidationError{Field: "text", Message: "must not be empty"}
	}
	if len(r.Levels) == 0 {
		return nil, &ValidationError{Field: "requested_levels", Message: "must not be empty"}
	}

	seen := make(map[Level]bool, len(r.Levels))
	for _, l := range r.Levels {
		if !l.Valid() {
			return nil, &ValidationError{Field: "requested_levels", Message: "unknown level " + string(l)}
		}
		if seen[l] {
			return nil, &ValidationError{Field: "requested_levels", Message: "duplicate level " + string(l)}
		}
		seen[l] = true
	}

	levels := SortLevels(r.Levels)
	for i := 1; i < len(levels); i++ {
		if levels[i].Rank() != levels[i-1].Rank()+1 {
			return nil, &ValidationError{Field: "requested_levels", Message: "levels must be contiguous, missing level above " + string(levels[i])}
		}
	}

	if r.Thresholds != nil {
		if err := r.Thresholds.Validate("thresholds."); err != nil {
			return nil, err
		}
	}
	return levels, nil
}

package models

import "time"

// ThresholdConfig holds the minimum fast-backend confidence accepted per level.
type ThresholdConfig struct {
	Primary   float64   `json:"primary"`
	Secondary float64   `json:"secondary"`
	Tertiary  float64   `json:"tertiary"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

// DefaultThresholds returns the thresholds used when nothing else is configured.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		Primary:   0.90,
		Secondary: 0.85,
		Tertiary:  0.80,
		Version:   1,
		UpdatedBy: "system",
	}
}

// For returns the threshold for a level.
func (c ThresholdConfig) For(l Level) float64 {
	switch l {
	case LevelPrimary:
		return c.Primary
	case LevelSecondary:
		return c.Secondary
	case LevelTertiary:
		return c.Tertiary
	}
	return 0
}

// Validate checks that every threshold lies in [0,1].
func (c ThresholdConfig) Validate() error {
	for _, l := range AllLevels {
		if !InUnitRange(c.For(l)) {
			return &ValidationError{Field: "thresholds." + string(l), Message: "must be between 0 and 1"}
		}
	}
	return nil
}

// ThresholdUpdate is a partial threshold change. Nil fields keep their
// current value.
type ThresholdUpdate struct {
	Primary   *float64 `json:"primary,omitempty"`
	Secondary *float64 `json:"secondary,omitempty"`
	Tertiary  *float64 `json:"tertiary,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ThresholdUpdate) Empty() bool {
	return u.Primary == nil && u.Secondary == nil && u.Tertiary == nil
}

// Validate checks every supplied field lies in [0,1].
func (u ThresholdUpdate) Validate(prefix string) error {
	fields := []struct {
		level Level
		value *float64
	}{
		{LevelPrimary, u.Primary},
		{LevelSecondary, u.Secondary},
		{LevelTertiary, u.Tertiary},
	}
	for _, f := range fields {
		if f.value != nil && !InUnitRange(*f.value) {
			return &ValidationError{Field: prefix + string(f.level), Message: "must be between 0 and 1"}
		}
	}
	return nil
}

// Apply returns base with the supplied fields replaced. Metadata is left
// untouched.
func (u ThresholdUpdate) Apply(base ThresholdConfig) ThresholdConfig {
	if u.Primary != nil {
		base.Primary = *u.Primary
	}
	if u.Secondary != nil {
		base.Secondary = *u.Secondary
	}
	if u.Tertiary != nil {
		base.Tertiary = *u.Tertiary
	}
	return base
}

package models

import (
	"fmt"
	"slices"
	"strings"
)

// Level is a position in the classification hierarchy.
// Levels are totally ordered: primary < secondary < tertiary.
type Level string

const (
	LevelPrimary   Level = "primary"
	LevelSecondary Level = "secondary"
	LevelTertiary  Level = "tertiary"
)

// AllLevels lists every level in hierarchical order.
var AllLevels = []Level{LevelPrimary, LevelSecondary, LevelTertiary}

// Rank returns the level's position in the hierarchy, or -1 if unknown.
func (l Level) Rank() int {
	return slices.Index(AllLevels, l)
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l.Rank() >= 0
}

// ParseLevel converts a case-insensitive name into a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}

// SortLevels returns a copy of levels in hierarchical order.
func SortLevels(levels []Level) []Level {
	out := slices.Clone(levels)
	slices.SortFunc(out, func(a, b Level) int { return a.Rank() - b.Rank() })
	return out
}

// Source identifies which backend produced a prediction.
type Source string

const (
	SourceFast Source = "fast"
	SourceSlow Source = "slow"
)

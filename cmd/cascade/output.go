package cascade

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/kamilpajak/cascade/pkg/models"
)

func printResult(stderr, stdout io.Writer, r *models.ClassificationResult) {
	dim := color.New(color.FgHiBlack)
	bold := color.New(color.Bold)

	for _, p := range r.Predictions {
		_, _ = bold.Fprintf(stdout, "%-10s", p.Level)
		fmt.Fprintf(stdout, " %s\n", p.Label)
		printConfidenceBar(stderr, p.Confidence, r.Thresholds.For(p.Level))
		printSource(stderr, p)
		if p.Reasoning != "" {
			_, _ = dim.Fprintf(stderr, "  %s\n", p.Reasoning)
		}
	}

	fmt.Fprintln(stderr)
	_, _ = dim.Fprintln(stderr, "  "+strings.Repeat("━", 50))
	_, _ = dim.Fprintf(stderr, "  request %s  %dms  thresholds v%d\n", r.RequestID, r.ElapsedMS, r.Thresholds.Version)
	if a := r.Analysis; a.TriggeredSlow && a.TriggerLevel != nil {
		_, _ = dim.Fprintf(stderr, "  escalated from %s\n", *a.TriggerLevel)
	}

	if r.Degraded {
		fmt.Fprintln(stderr)
		yellow := color.New(color.FgYellow)
		_, _ = yellow.Fprintln(stderr, "  Warning: the slow backend was unavailable; degraded levels use fast predictions.")
	}
}

func printSource(w io.Writer, p models.AggregatedPrediction) {
	switch {
	case p.Degraded:
		_, _ = color.New(color.FgYellow).Fprintf(w, "  source: %s (degraded)\n", p.Source)
	case p.Source == models.SourceSlow:
		_, _ = color.New(color.FgCyan).Fprintf(w, "  source: %s\n", p.Source)
	default:
		_, _ = color.New(color.FgHiBlack).Fprintf(w, "  source: %s\n", p.Source)
	}
}

func printConfidenceBar(w io.Writer, confidence, threshold float64) {
	const barWidth = 24
	filled := int(confidence * barWidth)
	filled = min(max(filled, 0), barWidth)

	barColor := color.New(color.FgGreen)
	if confidence < threshold {
		barColor = color.New(color.FgRed)
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(w, "  Confidence: %.0f%% ", confidence*100)
	_, _ = barColor.Fprint(w, bar)
	dim := color.New(color.FgHiBlack)
	_, _ = dim.Fprintf(w, " (threshold %.0f%%)\n", threshold*100)
}

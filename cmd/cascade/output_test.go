package cascade

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/kamilpajak/cascade/pkg/models"
	"github.com/stretchr/testify/assert"
)

func init() {
	color.NoColor = true
}

func testResult() *models.ClassificationResult {
	secondary := models.LevelSecondary
	return &models.ClassificationResult{
		RequestID: "req-1",
		ElapsedMS: 120,
		Predictions: []models.AggregatedPrediction{
			{LevelPrediction: models.LevelPrediction{Level: models.LevelPrimary, Label: "Finance", Confidence: 0.95, Source: models.SourceFast}},
			{LevelPrediction: models.LevelPrediction{Level: models.LevelSecondary, Label: "Invoice", Confidence: 0.91, Source: models.SourceSlow, Reasoning: "mentions amounts due"}},
		},
		Analysis:   models.ConfidenceAnalysis{TriggeredSlow: true, TriggerLevel: &secondary},
		Thresholds: models.DefaultThresholds(),
	}
}

func TestPrintResult(t *testing.T) {
	var stderr, stdout bytes.Buffer
	printResult(&stderr, &stdout, testResult())

	assert.Contains(t, stdout.String(), "primary")
	assert.Contains(t, stdout.String(), "Finance")
	assert.Contains(t, stdout.String(), "Invoice")
	assert.NotContains(t, stdout.String(), "Confidence", "labels go to stdout, decoration to stderr")

	assert.Contains(t, stderr.String(), "Confidence: 95%")
	assert.Contains(t, stderr.String(), "source: slow")
	assert.Contains(t, stderr.String(), "mentions amounts due")
	assert.Contains(t, stderr.String(), "escalated from secondary")
	assert.Contains(t, stderr.String(), "request req-1")
	assert.NotContains(t, stderr.String(), "Warning")
}

func TestPrintResult_Degraded(t *testing.T) {
	r := testResult()
	r.Degraded = true
	r.Predictions[1] = models.AggregatedPrediction{
		LevelPrediction: models.LevelPrediction{Level: models.LevelSecondary, Label: "Receipt", Confidence: 0.6, Source: models.SourceFast},
		Degraded:        true,
	}

	var stderr, stdout bytes.Buffer
	printResult(&stderr, &stdout, r)

	assert.Contains(t, stderr.String(), "source: fast (degraded)")
	assert.Contains(t, stderr.String(), "Warning")
	assert.Contains(t, stdout.String(), "Receipt")
}

func TestPrintConfidenceBar(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		full       int
	}{
		{"full", 1.0, 24},
		{"half", 0.5, 12},
		{"empty", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printConfidenceBar(&buf, tt.confidence, 0.8)
			out := buf.String()
			assert.Equal(t, tt.full, bytes.Count([]byte(out), []byte("█")))
			assert.Equal(t, 24-tt.full, bytes.Count([]byte(out), []byte("░")))
			assert.Contains(t, out, "threshold 80%")
		})
	}
}

package backend

import "github.com/kamilpajak/cascade/pkg/models"

// classifyRequest is the JSON body POSTed to either backend.
type classifyRequest struct {
	Text    string                  `json:"text"`
	Levels  []models.Level          `json:"levels"`
	Context map[models.Level]string `json:"context,omitempty"`
}

// classifyResponse maps level name to that level's prediction.
type classifyResponse map[string]wirePrediction

type wirePrediction struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// Result is a successful Classify call.
type Result struct {
	Predictions []models.LevelPrediction
	Attempts    int
}

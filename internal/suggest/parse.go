package suggest

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/lexiqai/consult-gateway/internal/llm"
	"github.com/lexiqai/consult-gateway/internal/model"
)

// ErrNoCandidates is returned when model output holds no usable suggestion
var ErrNoCandidates = errors.New("no usable suggestion candidates")

// defaultModelConfidence applies when the model omits a confidence
const defaultModelConfidence = 0.6

type candidatePayload struct {
	Type       string          `json:"type"`
	Content    string          `json:"content"`
	Text       string          `json:"text"`
	Source     string          `json:"source"`
	Confidence json.RawMessage `json:"confidence"`
	Priority   string          `json:"priority"`
}

// ParseCandidates reads model output shaped as {"suggestions": [...]} or as
// a bare array. Items without content are skipped; enum values are parsed
// leniently and confidence is clamped to [0, 1].
func ParseCandidates(text string) ([]model.Suggestion, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	var items []candidatePayload
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, err
		}
	} else {
		var wrapped struct {
			Suggestions []candidatePayload `json:"suggestions"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, err
		}
		items = wrapped.Suggestions
	}

	var out []model.Suggestion
	for _, it := range items {
		content := strings.TrimSpace(it.Content)
		if content == "" {
			content = strings.TrimSpace(it.Text)
		}
		if content == "" {
			continue
		}
		source := strings.TrimSpace(it.Source)
		if source == "" {
			source = "llm"
		}
		out = append(out, model.Suggestion{
			Type:       model.ParseSuggestionType(it.Type),
			Content:    content,
			Source:     source,
			Confidence: parseConfidence(it.Confidence),
			Priority:   model.ParseLevel(it.Priority, model.LevelMedium),
		})
	}
	if len(out) == 0 {
		return nil, ErrNoCandidates
	}
	return out, nil
}

// parseConfidence accepts a number or a numeric string; percentages above 1
// are scaled down
func parseConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return defaultModelConfidence
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s json.Number
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		if v, err = s.Float64(); err != nil {
			return 0
		}
	}
	if v > 1 && v <= 100 {
		v /= 100
	}
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

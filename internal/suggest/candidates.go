package suggest

import (
	"fmt"
	"math"

	"github.com/lexiqai/consult-gateway/internal/knowledge"
	"github.com/lexiqai/consult-gateway/internal/model"
)

// Suggestion sources attached to deterministic candidates
const (
	sourceEmergency = "emergency"
	sourceRule      = "rule"
	sourceGeneric   = "generic"
)

// emergencyCandidates renders the fixed critical template set
func emergencyCandidates(t *RuleTable, c model.ClinicalContext, sel *VariantSelector) []model.Suggestion {
	var out []model.Suggestion
	for _, tpl := range t.EmergencyFor(c.Symptoms) {
		out = append(out, model.Suggestion{
			Type:       model.ParseSuggestionType(tpl.Type),
			Content:    sel.Choose("emergency:"+tpl.ID, tpl.Variants),
			Source:     sourceEmergency,
			Confidence: tpl.Confidence,
			Priority:   model.LevelCritical,
		})
	}
	return out
}

// ruleCandidates is the deterministic fallback: matching rules plus the
// retrieved protocol snippets rendered as protocol suggestions
func ruleCandidates(t *RuleTable, c model.ClinicalContext, snippets []knowledge.Snippet, sel *VariantSelector) []model.Suggestion {
	var out []model.Suggestion
	for _, r := range t.Match(c) {
		out = append(out, model.Suggestion{
			Type:       model.ParseSuggestionType(r.Type),
			Content:    sel.Choose("rule:"+r.ID, r.Variants),
			Source:     sourceRule + ":" + r.ID,
			Confidence: r.Confidence,
			Priority:   model.ParseLevel(r.Priority, model.LevelMedium),
		})
	}
	for _, s := range snippets {
		out = append(out, snippetCandidate(s))
	}
	return out
}

func snippetCandidate(s knowledge.Snippet) model.Suggestion {
	return model.Suggestion{
		Type:       model.SuggestionProtocol,
		Content:    fmt.Sprintf("%s: %s", s.Title, s.Text),
		Source:     s.Source,
		Confidence: math.Min(0.55+0.35*s.Score, 0.9),
		Priority:   s.Priority,
	}
}

// genericCandidate is the open question offered when nothing was detected
func genericCandidate(t *RuleTable, phase model.Phase, sel *VariantSelector) model.Suggestion {
	variants := t.Generic[string(phase)]
	if len(variants) == 0 {
		phase = model.PhaseHistory
		variants = t.Generic[string(phase)]
	}
	return model.Suggestion{
		Type:       model.SuggestionQuestion,
		Content:    sel.Choose("generic:"+string(phase), variants),
		Source:     sourceGeneric,
		Confidence: 0.6,
		Priority:   model.LevelLow,
	}
}

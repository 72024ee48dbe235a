package suggest

import (
	"fmt"
	"strings"

	"github.com/lexiqai/consult-gateway/internal/knowledge"
	"github.com/lexiqai/consult-gateway/internal/llm"
	"github.com/lexiqai/consult-gateway/internal/model"
)

const suggestionSystemPrompt = `You support a clinician during a live consultation with short, actionable suggestions.
Respond with a single JSON object and nothing else:
{"suggestions": [{"type": "...", "content": "...", "source": "...", "confidence": 0.0, "priority": "..."}]}
  "type": one of "question", "protocol", "alert", "followup", "assessment"
  "content": one sentence the clinician can act on immediately
  "source": the protocol title you relied on, or "clinical reasoning"
  "confidence": number between 0 and 1
  "priority": one of "low", "medium", "high", "critical"
Never repeat a question the clinician already asked. Prefer red-flag questions when urgency is high.`

// BuildPrompt renders the candidate-generation prompt
func BuildPrompt(c model.ClinicalContext, snippets []knowledge.Snippet, max int) llm.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s\nUrgency: %s\n", c.Phase, c.Urgency)
	writeList(&b, "Symptoms", c.Symptoms)
	writeList(&b, "Patient concerns", c.PatientConcerns)
	writeList(&b, "Missing history", c.MissingInfo)
	if c.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", c.Notes)
	}

	if len(snippets) > 0 {
		b.WriteString("\nRelevant protocols:\n")
		for _, s := range snippets {
			fmt.Fprintf(&b, "- %s (%s): %s\n", s.Title, s.Source, s.Text)
		}
	}

	b.WriteString("\nQuestions already asked:\n")
	if len(c.QuestionsAsked) == 0 {
		b.WriteString("- none\n")
	}
	for _, q := range c.QuestionsAsked {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	fmt.Fprintf(&b, "\nReturn at most %d suggestions.\n", max)

	return llm.Prompt{
		Purpose: "suggestions",
		System:  suggestionSystemPrompt,
		User:    b.String(),
	}
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", label)
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(items, ", "))
}

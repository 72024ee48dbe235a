package clinical

import (
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/consult-gateway/internal/llm"
	"github.com/lexiqai/consult-gateway/internal/model"
)

const analysisSystemPrompt = `You are a clinical scribe assisting a clinician during a live consultation.
Read the transcript and describe the clinical state of the consultation.
Respond with a single JSON object and nothing else, using exactly these keys:
  "phase": one of "history", "exam", "diagnosis", "treatment", "closing"
  "urgency": one of "low", "medium", "high", "critical"
  "symptoms": array of short lowercase symptom tags using underscores, e.g. "chest", "shortness_of_breath"
  "missing_info": array of history items the clinician has not yet covered
  "patient_concerns": array of worries the patient voiced
  "questions_asked": array of questions the clinician already asked
  "notes": one short sentence
Only report what the transcript supports.`

// SessionMeta is the lightweight session context included in prompts
type SessionMeta struct {
	ConsultationType string
	StartedAt        time.Time
}

// BuildPrompt renders the analysis prompt for a window of utterances
func BuildPrompt(window []model.TextUtterance, meta SessionMeta, phase model.Phase, now time.Time) llm.Prompt {
	var b strings.Builder

	consultType := meta.ConsultationType
	if consultType == "" {
		consultType = "general"
	}
	fmt.Fprintf(&b, "Consultation type: %s\n", consultType)
	if !meta.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Elapsed: %s\n", now.Sub(meta.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(&b, "Current phase: %s\n\n", phase)

	b.WriteString("Transcript (oldest first):\n")
	for _, u := range window {
		fmt.Fprintf(&b, "[%s] %s\n", u.Speaker, u.Text)
	}

	return llm.Prompt{
		Purpose: "context_analysis",
		System:  analysisSystemPrompt,
		User:    b.String(),
	}
}

package clinical

import (
	"strings"

	"github.com/lexiqai/consult-gateway/internal/model"
)

// historyItems are asked about whenever a symptom is present; an item is
// missing when no utterance in the window mentions any of its cues.
var historyItems = []struct {
	name string
	cues []string
}{
	{"onset", []string{"started", "since", "ago", "began", "yesterday", "last week", "this morning"}},
	{"severity", []string{"out of 10", "out of ten", "scale", "severe", "mild", "moderate", "worst"}},
	{"current_medications", []string{"medication", "medications", "taking", "pills", "tablets", "prescribed"}},
	{"allergies", []string{"allergy", "allergies", "allergic"}},
}

// KeywordAnalysis derives a context from the window without a language
// model. Symptoms and concerns come from patient utterances only.
func KeywordAnalysis(window []model.TextUtterance) model.ClinicalContext {
	out := model.DefaultClinicalContext()

	var symptoms, concerns []string
	var all strings.Builder
	for _, u := range window {
		all.WriteString(" ")
		all.WriteString(joinTokens(u.Text))
		if u.Speaker != model.ChannelPatient {
			continue
		}
		symptoms = append(symptoms, MatchSymptoms(u.Text)...)
		concerns = append(concerns, MatchConcerns(u.Text)...)
	}
	out.Symptoms = model.NormalizeSet(symptoms)
	out.PatientConcerns = model.NormalizeSet(concerns)
	out.Phase = InferPhase(window)

	if len(out.Symptoms) > 0 {
		text := all.String() + " "
		var missing []string
		for _, item := range historyItems {
			if !anyPhrase(text, item.cues) {
				missing = append(missing, item.name)
			}
		}
		out.MissingInfo = model.NormalizeSet(missing)
	}
	out.QuestionsAsked = ClinicianQuestions(window)
	return out
}

// ClinicianQuestions returns the questions the clinician asked in the window
func ClinicianQuestions(window []model.TextUtterance) []string {
	var qs []string
	for _, u := range window {
		if u.Speaker != model.ChannelClinician {
			continue
		}
		for _, sentence := range strings.SplitAfter(u.Text, "?") {
			sentence = strings.TrimSpace(sentence)
			if !strings.HasSuffix(sentence, "?") {
				continue
			}
			// Keep only the question itself, not a preceding statement
			if i := strings.LastIndexAny(strings.TrimSuffix(sentence, "?"), ".!"); i >= 0 {
				sentence = strings.TrimSpace(sentence[i+1:])
			}
			qs = append(qs, strings.TrimSuffix(sentence, "?"))
		}
	}
	return model.NormalizeSet(qs)
}

func anyPhrase(padded string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(padded, p) {
			return true
		}
	}
	return false
}

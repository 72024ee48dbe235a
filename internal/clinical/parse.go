package clinical

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/lexiqai/consult-gateway/internal/llm"
	"github.com/lexiqai/consult-gateway/internal/model"
)

// ErrEmptyAnalysis is returned when a payload carries none of the expected keys
var ErrEmptyAnalysis = errors.New("analysis payload has no recognised fields")

// stringList accepts a JSON array of strings, a single string or null
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var many []any
	if err := json.Unmarshal(data, &many); err == nil {
		out := make([]string, 0, len(many))
		for _, v := range many {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		*l = out
		return nil
	}
	var one *string
	if err := json.Unmarshal(data, &one); err != nil {
		// Numbers, objects and the like are ignored rather than failing the payload
		*l = nil
		return nil
	}
	if one != nil {
		*l = strings.Split(*one, ",")
	}
	return nil
}

// analysisPayload is the schema requested from the model. Every field is
// optional; snake_case and camelCase spellings are both accepted.
type analysisPayload struct {
	Phase                string     `json:"phase"`
	Urgency              string     `json:"urgency"`
	Symptoms             stringList `json:"symptoms"`
	MissingInfo          stringList `json:"missing_info"`
	MissingInfoCamel     stringList `json:"missingInfo"`
	PatientConcerns      stringList `json:"patient_concerns"`
	PatientConcernsCamel stringList `json:"patientConcerns"`
	QuestionsAsked       stringList `json:"questions_asked"`
	QuestionsAskedCamel  stringList `json:"questionsAsked"`
	Notes                string     `json:"notes"`
}

func (p analysisPayload) empty() bool {
	return p.Phase == "" && p.Urgency == "" && len(p.Symptoms) == 0 &&
		len(p.MissingInfo)+len(p.MissingInfoCamel) == 0 &&
		len(p.PatientConcerns)+len(p.PatientConcernsCamel) == 0 &&
		len(p.QuestionsAsked)+len(p.QuestionsAskedCamel) == 0 && p.Notes == ""
}

// ParseAnalysis converts untrusted model output into a ClinicalContext.
// Unknown enum values fall back to history and low; symptom names are
// mapped onto canonical tags. It never panics on malformed input.
func ParseAnalysis(text string) (model.ClinicalContext, error) {
	var p analysisPayload
	if err := llm.Decode(text, &p); err != nil {
		return model.ClinicalContext{}, err
	}
	if p.empty() {
		return model.ClinicalContext{}, ErrEmptyAnalysis
	}

	phase, _ := model.ParsePhase(p.Phase)
	var symptoms []string
	for _, s := range p.Symptoms {
		symptoms = append(symptoms, CanonicalTags(s)...)
	}

	return model.ClinicalContext{
		Phase:           phase,
		Urgency:         model.ParseLevel(p.Urgency, model.LevelLow),
		Symptoms:        model.NormalizeSet(symptoms),
		MissingInfo:     model.NormalizeSet(append(p.MissingInfo, p.MissingInfoCamel...)),
		PatientConcerns: model.NormalizeSet(append(p.PatientConcerns, p.PatientConcernsCamel...)),
		QuestionsAsked:  model.NormalizeSet(append(p.QuestionsAsked, p.QuestionsAskedCamel...)),
		Notes:           strings.TrimSpace(p.Notes),
		Source:          model.ContextFromLLM,
	}, nil
}

package clinical

import (
	"slices"

	"github.com/lexiqai/consult-gateway/internal/model"
)

// RedFlagUrgency returns the least urgency the symptom set warrants.
// Chest symptoms with breathlessness are always critical.
func RedFlagUrgency(symptoms []string) model.Level {
	has := func(tag string) bool { return slices.Contains(symptoms, tag) }

	switch {
	case has(TagChest) && (has(TagShortnessOfBreath) || has(TagPalpitations) || has(TagSyncope)):
		return model.LevelCritical
	case has(TagNumbness) && has(TagConfusion):
		return model.LevelCritical
	case has(TagChest), has(TagShortnessOfBreath), has(TagSyncope), has(TagConfusion):
		return model.LevelHigh
	case has(TagHeadache) && has(TagVisionChanges):
		return model.LevelHigh
	case len(symptoms) >= 2:
		return model.LevelMedium
	}
	return model.LevelLow
}

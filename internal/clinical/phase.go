package clinical

import (
	"context"
	"strings"

	"github.com/looplab/fsm"

	"github.com/lexiqai/consult-gateway/internal/model"
)

// PhaseTracker follows the consultation through its phases. Transitions only
// move forward: a later snapshot claiming an earlier phase is ignored.
type PhaseTracker struct {
	machine *fsm.FSM
}

// phaseEvents allows a jump from any phase to any later one. Event names
// are the destination phase.
func phaseEvents() fsm.Events {
	var events fsm.Events
	for i, dst := range model.Phases {
		if i == 0 {
			continue
		}
		src := make([]string, 0, i)
		for _, p := range model.Phases[:i] {
			src = append(src, string(p))
		}
		events = append(events, fsm.EventDesc{Name: string(dst), Src: src, Dst: string(dst)})
	}
	return events
}

// NewPhaseTracker starts in the history phase
func NewPhaseTracker() *PhaseTracker {
	return &PhaseTracker{machine: fsm.NewFSM(string(model.PhaseHistory), phaseEvents(), fsm.Callbacks{})}
}

// Current returns the current phase
func (t *PhaseTracker) Current() model.Phase {
	return model.Phase(t.machine.Current())
}

// Advance moves to target if it lies ahead and reports whether it moved
func (t *PhaseTracker) Advance(ctx context.Context, target model.Phase) bool {
	if !t.machine.Can(string(target)) {
		return false
	}
	return t.machine.Event(ctx, string(target)) == nil
}

// phaseCues are clinician phrases that signal a later phase
var phaseCues = map[model.Phase][]string{
	model.PhaseExam:      {"examine", "take a look", "listen to your", "blood pressure", "lie back", "deep breath for me"},
	model.PhaseDiagnosis: {"i think you have", "it looks like", "diagnosis", "most likely", "probably a"},
	model.PhaseTreatment: {"prescribe", "prescription", "treatment", "take this", "start you on", "dose"},
	model.PhaseClosing:   {"any other questions", "follow up", "come back if", "see you in", "take care"},
}

// InferPhase returns the latest phase cued by clinician utterances, or
// history when there is no cue.
func InferPhase(window []model.TextUtterance) model.Phase {
	latest := model.PhaseHistory
	rank := 0
	for _, u := range window {
		if u.Speaker != model.ChannelClinician {
			continue
		}
		text := " " + joinTokens(u.Text) + " "
		for i, p := range model.Phases {
			if i <= rank {
				continue
			}
			for _, cue := range phaseCues[p] {
				if containsPhrase(text, cue) {
					latest, rank = p, i
					break
				}
			}
		}
	}
	return latest
}

func joinTokens(text string) string {
	return strings.Join(Tokenize(text), " ")
}

// containsPhrase reports whether padded, tokenized text holds phrase as whole words
func containsPhrase(padded, phrase string) bool {
	return strings.Contains(padded, " "+joinTokens(phrase)+" ")
}

// Package clinical derives a structured clinical context from the rolling
// transcript of a consultation.
package clinical

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lexiqai/consult-gateway/internal/llm"
	"github.com/lexiqai/consult-gateway/internal/model"
	"github.com/lexiqai/consult-gateway/internal/observability"
)

const maxQuestionsTracked = 50

// Config holds analyzer settings
type Config struct {
	Window int // utterances kept per session
}

// DefaultConfig returns the default analyzer configuration
func DefaultConfig() Config {
	return Config{Window: 10}
}

type sessionState struct {
	meta   SessionMeta
	window []model.TextUtterance
	asked  []string
	phase  *PhaseTracker
	cached *model.ClinicalContext
}

// Analyzer keeps a rolling utterance window per session and turns it into
// a ClinicalContext. Model output is untrusted: any failure degrades to
// keyword matching, so Analyze always yields a usable snapshot.
type Analyzer struct {
	provider llm.Provider // nil disables the language model
	config   Config
	now      func() time.Time
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewAnalyzer creates an analyzer; provider may be nil
func NewAnalyzer(provider llm.Provider, config Config) *Analyzer {
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	return &Analyzer{
		provider: provider,
		config:   config,
		now:      time.Now,
		logger:   observability.ComponentLogger("context_analyzer"),
		sessions: make(map[string]*sessionState),
	}
}

// Start registers session metadata used in prompts
func (a *Analyzer) Start(sessionID string, meta SessionMeta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.session(sessionID)
	if meta.StartedAt.IsZero() {
		meta.StartedAt = s.meta.StartedAt
	}
	s.meta = meta
}

func (a *Analyzer) session(id string) *sessionState {
	s, ok := a.sessions[id]
	if !ok {
		s = &sessionState{phase: NewPhaseTracker(), meta: SessionMeta{StartedAt: a.now()}}
		a.sessions[id] = s
	}
	return s
}

// Observe appends an utterance to the session window. Fallback placeholders
// carry no transcribed words and are kept out of the window.
func (a *Analyzer) Observe(u model.TextUtterance) {
	if u.IsFallback() || u.Text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.session(u.SessionID)
	s.window = append(s.window, u)
	if over := len(s.window) - a.config.Window; over > 0 {
		s.window = append(s.window[:0:0], s.window[over:]...)
	}
	if u.Speaker == model.ChannelClinician {
		s.asked = mergeQuestions(s.asked, ClinicianQuestions([]model.TextUtterance{u}))
	}
}

// Analyze derives a fresh snapshot for the session and caches it,
// replacing the previous one.
func (a *Analyzer) Analyze(ctx context.Context, sessionID string) model.ClinicalContext {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return model.DefaultClinicalContext()
	}
	window := append([]model.TextUtterance(nil), s.window...)
	meta := s.meta
	phase := s.phase.Current()
	a.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "clinical.analyze", sessionID, attribute.Int("window", len(window)))
	defer span.End()

	var result model.ClinicalContext
	if len(window) == 0 {
		result = model.DefaultClinicalContext()
	} else {
		result = a.derive(ctx, sessionID, window, meta, phase)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok = a.sessions[sessionID]
	if !ok {
		// Session ended while the model was thinking
		return result
	}
	s.phase.Advance(ctx, result.Phase)
	result.Phase = s.phase.Current()
	result.QuestionsAsked = model.NormalizeSet(append(result.QuestionsAsked, s.asked...))
	result.Urgency = model.MaxLevel(result.Urgency, RedFlagUrgency(result.Symptoms))
	result.UpdatedAt = a.now().UTC()
	s.cached = &result

	span.SetAttributes(
		attribute.String("source", string(result.Source)),
		attribute.String("urgency", string(result.Urgency)),
	)
	observability.RecordContextSnapshot(string(result.Source))
	return result
}

func (a *Analyzer) derive(ctx context.Context, sessionID string, window []model.TextUtterance, meta SessionMeta, phase model.Phase) model.ClinicalContext {
	if a.provider == nil {
		return KeywordAnalysis(window)
	}

	logger := a.logger.With().Str("session_id", sessionID).Logger()
	text, err := a.provider.Complete(ctx, BuildPrompt(window, meta, phase, a.now()))
	if err != nil {
		logger.Warn().Err(err).Msg("Context analysis degraded to keywords: model call failed")
		return KeywordAnalysis(window)
	}
	parsed, err := ParseAnalysis(text)
	if err != nil {
		logger.Warn().Err(err).Msg("Context analysis degraded to keywords: unparseable response")
		return KeywordAnalysis(window)
	}
	return parsed
}

// Snapshot returns the cached context of a session
func (a *Analyzer) Snapshot(sessionID string) (model.ClinicalContext, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok || s.cached == nil {
		return model.ClinicalContext{}, false
	}
	return *s.cached, true
}

// WindowLen returns the number of utterances in the session window
func (a *Analyzer) WindowLen(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[sessionID]; ok {
		return len(s.window)
	}
	return 0
}

// Forget drops all state of a session
func (a *Analyzer) Forget(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
}

// mergeQuestions appends new questions in order, dropping the oldest past the cap
func mergeQuestions(existing, add []string) []string {
	for _, q := range add {
		if !slices.Contains(existing, q) {
			existing = append(existing, q)
		}
	}
	if over := len(existing) - maxQuestionsTracked; over > 0 {
		existing = existing[over:]
	}
	return existing
}

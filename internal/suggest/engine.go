// Package suggest turns clinical context snapshots into ranked, rate-limited
// suggestions for the clinician.
package suggest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lexiqai/consult-gateway/internal/clinical"
	"github.com/lexiqai/consult-gateway/internal/knowledge"
	"github.com/lexiqai/consult-gateway/internal/llm"
	"github.com/lexiqai/consult-gateway/internal/model"
	"github.com/lexiqai/consult-gateway/internal/notify"
	"github.com/lexiqai/consult-gateway/internal/observability"
)

// recentContentLimit bounds the per-session memory used for content de-duplication
const recentContentLimit = 20

// Config holds generation limits
type Config struct {
	MinInterval   time.Duration // between non-critical batches of a session
	MaxPerSession int
	MaxPerBatch   int
	MinConfidence float64 // candidates below are never emitted
}

// DefaultConfig returns the default generation limits
func DefaultConfig() Config {
	return Config{
		MinInterval:   20 * time.Second,
		MaxPerSession: 50,
		MaxPerBatch:   5,
		MinConfidence: 0.5,
	}
}

// Store persists suggestions
type Store interface {
	CreateSuggestion(ctx context.Context, s model.Suggestion) error
}

type sessionState struct {
	lastEmitted time.Time
	count       int
	recent      []string // content keys, oldest first
	variants    *VariantSelector
}

func (s *sessionState) seen(key string) bool {
	for _, k := range s.recent {
		if k == key {
			return true
		}
	}
	return false
}

func (s *sessionState) remember(key string) {
	s.recent = append(s.recent, key)
	if over := len(s.recent) - recentContentLimit; over > 0 {
		s.recent = append(s.recent[:0:0], s.recent[over:]...)
	}
}

// Engine generates suggestions. Critical urgency bypasses the rate limiter
// and uses the fixed emergency templates; otherwise candidates come from the
// language model, grounded on knowledge base snippets, with the rule table
// as fallback.
type Engine struct {
	provider  llm.Provider // nil disables the language model
	kb        *knowledge.Base
	rules     *RuleTable
	store     Store
	publisher notify.Publisher
	config    Config
	now       func() time.Time
	newID     func() string
	alive     func(sessionID string) bool
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewEngine creates an engine. provider may be nil; kb and rules default to
// the built-in sets when nil.
func NewEngine(provider llm.Provider, kb *knowledge.Base, rules *RuleTable, store Store, publisher notify.Publisher, config Config) *Engine {
	if kb == nil {
		kb = knowledge.Default()
	}
	if rules == nil {
		rules = DefaultRules()
	}
	if publisher == nil {
		publisher = notify.Discard{}
	}
	if config.MaxPerBatch <= 0 {
		config.MaxPerBatch = DefaultConfig().MaxPerBatch
	}
	return &Engine{
		provider:  provider,
		kb:        kb,
		rules:     rules,
		store:     store,
		publisher: publisher,
		config:    config,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    observability.ComponentLogger("suggestion_engine"),
		sessions:  make(map[string]*sessionState),
	}
}

// WithSessionCheck sets the predicate used to discard batches for ended sessions
func (e *Engine) WithSessionCheck(alive func(sessionID string) bool) *Engine {
	e.alive = alive
	return e
}

func (e *Engine) session(id string) *sessionState {
	s, ok := e.sessions[id]
	if !ok {
		s = &sessionState{variants: NewVariantSelector()}
		e.sessions[id] = s
	}
	return s
}

// Generate produces the next batch of suggestions for a session. The result
// may be empty: the session is rate limited, has reached its cap, or every
// candidate was filtered out. Accepted suggestions are persisted and
// published before Generate returns.
func (e *Engine) Generate(ctx context.Context, sessionID string, c model.ClinicalContext, utteranceID string) []model.Suggestion {
	urgency := model.MaxLevel(c.Urgency, clinical.RedFlagUrgency(c.Symptoms))
	critical := urgency == model.LevelCritical
	logger := e.logger.With().Str("session_id", sessionID).Logger()

	e.mu.Lock()
	st := e.session(sessionID)
	now := e.now()
	if !critical && !st.lastEmitted.IsZero() && now.Sub(st.lastEmitted) < e.config.MinInterval {
		e.mu.Unlock()
		observability.RecordSuggestionRejected("rate_limited")
		return nil
	}
	if e.config.MaxPerSession > 0 && st.count >= e.config.MaxPerSession {
		e.mu.Unlock()
		observability.RecordSuggestionRejected("session_cap")
		return nil
	}
	sel := st.variants
	e.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "suggest.generate", sessionID,
		attribute.String("urgency", string(urgency)),
		attribute.Int("symptoms", len(c.Symptoms)))
	defer span.End()

	var candidates []model.Suggestion
	if critical {
		candidates = emergencyCandidates(e.rules, c, sel)
	} else {
		candidates = e.candidates(ctx, logger, c, sel)
	}

	e.mu.Lock()
	if e.sessions[sessionID] != st || (e.alive != nil && !e.alive(sessionID)) {
		// Session ended while candidates were generated
		if e.sessions[sessionID] == st {
			delete(e.sessions, sessionID)
		}
		e.mu.Unlock()
		observability.RecordSuggestionRejected("session_gone")
		return nil
	}
	// Critical alerts repeat for as long as the emergency lasts
	fresh := candidates[:0:0]
	for _, cand := range candidates {
		if cand.Priority == model.LevelCritical || !st.seen(contentKey(cand.Content)) {
			fresh = append(fresh, cand)
		}
	}
	limit := e.config.MaxPerBatch
	if e.config.MaxPerSession > 0 {
		limit = min(limit, e.config.MaxPerSession-st.count)
	}
	batch := Rank(fresh, e.config.MinConfidence, limit)
	if len(batch) == 0 && c.IsEmpty() && !critical {
		batch = Rank([]model.Suggestion{genericCandidate(e.rules, c.Phase, sel)}, e.config.MinConfidence, limit)
	}
	if len(batch) == 0 {
		e.mu.Unlock()
		observability.RecordSuggestionRejected("no_candidates")
		return nil
	}

	created := e.now().UTC()
	for i := range batch {
		batch[i].ID = e.newID()
		batch[i].SessionID = sessionID
		batch[i].UtteranceID = utteranceID
		batch[i].CreatedAt = created
		st.remember(contentKey(batch[i].Content))
	}
	st.lastEmitted = now
	st.count += len(batch)
	e.mu.Unlock()

	for _, s := range batch {
		if e.store != nil {
			if err := e.store.CreateSuggestion(ctx, s); err != nil {
				logger.Debug().Err(err).Str("suggestion_id", s.ID).Msg("Suggestion not persisted")
			}
		}
		if err := e.publisher.Publish(ctx, notify.NewEvent(notify.EventSuggestionNew, sessionID, s)); err != nil {
			logger.Warn().Err(err).Str("suggestion_id", s.ID).Msg("Failed to publish suggestion")
		}
		observability.RecordSuggestion(string(s.Priority), s.Source)
	}

	span.SetAttributes(attribute.Int("emitted", len(batch)))
	logger.Debug().
		Int("emitted", len(batch)).
		Bool("critical", critical).
		Str("top_priority", string(batch[0].Priority)).
		Msg("Suggestions emitted")
	return batch
}

// candidates asks the model for suggestions and falls back to the rule table
func (e *Engine) candidates(ctx context.Context, logger zerolog.Logger, c model.ClinicalContext, sel *VariantSelector) []model.Suggestion {
	snippets := e.kb.FindByKeywords(c.Symptoms)
	if e.provider == nil {
		return ruleCandidates(e.rules, c, snippets, sel)
	}

	text, err := e.provider.Complete(ctx, BuildPrompt(c, snippets, e.config.MaxPerBatch))
	if err == nil {
		var parsed []model.Suggestion
		if parsed, err = ParseCandidates(text); err == nil {
			return parsed
		}
	}
	logger.Warn().Err(err).Msg("Suggestion generation degraded to rule table")
	return ruleCandidates(e.rules, c, snippets, sel)
}

// Emitted returns how many suggestions the session has received
func (e *Engine) Emitted(sessionID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[sessionID]; ok {
		return s.count
	}
	return 0
}

// Forget drops all state of a session
func (e *Engine) Forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

// Package pipeline owns the per-session state of live consultations and
// drives audio through segmentation, transcription, analysis and
// suggestion generation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/consult-gateway/internal/audio"
	"github.com/lexiqai/consult-gateway/internal/clinical"
	"github.com/lexiqai/consult-gateway/internal/guard"
	"github.com/lexiqai/consult-gateway/internal/model"
	"github.com/lexiqai/consult-gateway/internal/observability"
)

// ErrEmptySessionID is returned by StartSession for a blank id
var ErrEmptySessionID = errors.New("session id is required")

// Transcriber turns flushed phrases into utterances (stt.Gateway). Accept
// admits an utterance produced elsewhere, such as one replayed by a
// reconnecting client, unless its id was already seen.
type Transcriber interface {
	Transcribe(ctx context.Context, unit model.UtteranceAudioUnit) (*model.TextUtterance, bool)
	Accept(ctx context.Context, utt model.TextUtterance) bool
}

// Analyzer maintains the clinical context of a session (clinical.Analyzer)
type Analyzer interface {
	Start(sessionID string, meta clinical.SessionMeta)
	Observe(u model.TextUtterance)
	Analyze(ctx context.Context, sessionID string) model.ClinicalContext
	Forget(sessionID string)
}

// Generator produces suggestions from a context snapshot (suggest.Engine)
type Generator interface {
	Generate(ctx context.Context, sessionID string, c model.ClinicalContext, utteranceID string) []model.Suggestion
	Forget(sessionID string)
}

// SuggestionStore records clinician feedback on suggestions
type SuggestionStore interface {
	MarkSuggestionUsed(ctx context.Context, suggestionID, userID string) (model.Suggestion, error)
}

// Deps are the collaborators of a registry
type Deps struct {
	Transcriber Transcriber
	Analyzer    Analyzer
	Generator   Generator
	Guard       *guard.Guard
	Store       SuggestionStore
}

// Config holds per-session resource settings
type Config struct {
	Segmenter audio.SegmenterConfig
	QueueSize int // frames buffered per channel before dropping
}

// DefaultConfig returns the default registry configuration
func DefaultConfig() Config {
	return Config{Segmenter: audio.DefaultSegmenterConfig(), QueueSize: 256}
}

// Registry owns every live session. Sessions are independent: each channel
// of each session has its own worker, and analysis cycles are serialized
// per session only.
type Registry struct {
	deps   Deps
	config Config
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
	inflight sync.WaitGroup // transcriptions and analysis cycles
}

// NewRegistry creates a registry
func NewRegistry(deps Deps, config Config) *Registry {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	return &Registry{
		deps:     deps,
		config:   config,
		logger:   observability.ComponentLogger("registry"),
		sessions: make(map[string]*session),
	}
}

// StartSession registers a session and starts its channel workers.
// Starting a session that is already live is a no-op.
func (r *Registry) StartSession(ctx context.Context, sessionID string, meta clinical.SessionMeta) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if meta.StartedAt.IsZero() {
		meta.StartedAt = time.Now()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("start session %s: registry closed", sessionID)
	}
	if _, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		return nil
	}
	s := newSession(r, sessionID, meta)
	r.sessions[sessionID] = s
	r.mu.Unlock()

	if r.deps.Guard != nil {
		r.deps.Guard.Open(sessionID)
	}
	r.deps.Analyzer.Start(sessionID, meta)
	s.start()

	s.logger.Info().
		Str("consultation_type", meta.ConsultationType).
		Msg("Session started")
	return nil
}

// EndSession tears a session down. Frames still queued and any phrase in
// progress are dropped; results of provider calls still in flight are
// discarded when they complete. Ending an unknown session is a no-op.
func (r *Registry) EndSession(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.stop()
	ev := s.logger.Info()
	if r.deps.Guard != nil {
		ev = ev.Int("utterances", r.deps.Guard.SeenCount(sessionID))
	}
	r.forget(sessionID)
	ev.Msg("Session ended")
}

func (r *Registry) forget(sessionID string) {
	if r.deps.Guard != nil {
		r.deps.Guard.ClearSession(sessionID)
	}
	r.deps.Analyzer.Forget(sessionID)
	r.deps.Generator.Forget(sessionID)
}

// Active reports whether a session is live
func (r *Registry) Active(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Sessions returns the number of live sessions
func (r *Registry) Sessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// PushFrame queues a frame for its channel worker without blocking. It
// reports false when the frame was not accepted: the session is unknown,
// the channel is invalid or the channel queue is full.
func (r *Registry) PushFrame(sessionID string, channel model.Channel, samples []float32, sampleRate int, timestamp time.Time) bool {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	w, ok := s.workers[channel]
	if !ok {
		return false
	}
	return w.push(model.AudioFrame{
		SessionID:  sessionID,
		Channel:    channel,
		Samples:    samples,
		SampleRate: sampleRate,
		Timestamp:  timestamp,
	})
}

// FlushChannel asks a channel worker to emit any phrase in progress, as when
// the media transport signals the end of a stream
func (r *Registry) FlushChannel(sessionID string, channel model.Channel) bool {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	w, ok := s.workers[channel]
	if !ok {
		return false
	}
	w.requestFlush()
	return true
}

// Replay admits utterances re-sent by a reconnecting client. Utterances the
// session has already emitted are skipped; new ones are persisted, published
// and analyzed like live ones. Returns how many were new.
func (r *Registry) Replay(ctx context.Context, sessionID string, utts []model.TextUtterance) int {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	accepted := 0
	for _, u := range utts {
		if u.ID == "" {
			continue
		}
		u.SessionID = sessionID
		if !r.deps.Transcriber.Accept(ctx, u) {
			continue
		}
		accepted++
		r.onUtterance(s, u)
	}
	return accepted
}

// MarkSuggestionUsed records that a clinician acted on a suggestion
func (r *Registry) MarkSuggestionUsed(ctx context.Context, suggestionID, userID string) (model.Suggestion, error) {
	if r.deps.Store == nil {
		return model.Suggestion{}, fmt.Errorf("mark suggestion %s used: no store configured", suggestionID)
	}
	return r.deps.Store.MarkSuggestionUsed(ctx, suggestionID, userID)
}

// Close ends every session and waits for channel workers and in-flight
// provider calls to finish
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.EndSession(id)
	}
	r.inflight.Wait()
}

// current reports whether s is still the live session for its id
func (r *Registry) current(s *session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[s.id] == s
}

// onUtterance runs one analysis and generation cycle for the session
func (r *Registry) onUtterance(s *session, utt model.TextUtterance) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if !r.current(s) {
		return
	}
	defer func() {
		if !r.current(s) && !r.Active(s.id) {
			// Ended mid-cycle: drop state recreated after teardown
			r.deps.Analyzer.Forget(s.id)
			r.deps.Generator.Forget(s.id)
		}
	}()

	r.deps.Analyzer.Observe(utt)
	if utt.IsFallback() {
		// A placeholder carries no words; the context cannot change
		return
	}

	ctx := context.WithoutCancel(s.ctx)
	snapshot := r.deps.Analyzer.Analyze(ctx, s.id)
	if !r.current(s) {
		return
	}
	batch := r.deps.Generator.Generate(ctx, s.id, snapshot, utt.ID)

	s.logger.Debug().
		Str("utterance_id", utt.ID).
		Str("phase", string(snapshot.Phase)).
		Str("urgency", string(snapshot.Urgency)).
		Int("suggestions", len(batch)).
		Msg("Analysis cycle complete")
}

package stt

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lexiqai/consult-gateway/internal/guard"
	"github.com/lexiqai/consult-gateway/internal/model"
	"github.com/lexiqai/consult-gateway/internal/notify"
	"github.com/lexiqai/consult-gateway/internal/observability"
	"github.com/lexiqai/consult-gateway/internal/resilience"
)

// Store persists utterances
type Store interface {
	CreateUtterance(ctx context.Context, u model.TextUtterance) error
}

// GatewayConfig holds transcription settings
type GatewayConfig struct {
	Language        string
	Timeout         time.Duration // per provider attempt
	Cooldown        time.Duration // lock hold-off after each transcription
	FallbackCeiling float64       // maximum confidence of synthesized text
	MinDuration     time.Duration // shorter units are dropped
	MinTextRunes    int           // cleaned text shorter than this counts as empty
}

// DefaultGatewayConfig returns a default transcription configuration
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Language:        "en",
		Timeout:         8 * time.Second,
		Cooldown:        500 * time.Millisecond,
		FallbackCeiling: 0.6,
		MinDuration:     400 * time.Millisecond,
		MinTextRunes:    2,
	}
}

// Gateway turns utterance audio units into persisted, published text
// utterances. It never returns an error: provider failures degrade to a
// labelled fallback utterance.
type Gateway struct {
	provider  Provider
	guard     *guard.Guard
	store     Store
	publisher notify.Publisher
	breaker   *resilience.CircuitBreaker
	config    GatewayConfig
	retry     *resilience.RetryConfig
	newID     func() string
	alive     func(sessionID string) bool
	logger    zerolog.Logger
}

// NewGateway creates a gateway. breaker may be nil.
func NewGateway(provider Provider, g *guard.Guard, store Store, publisher notify.Publisher, breaker *resilience.CircuitBreaker, config GatewayConfig) *Gateway {
	if config.FallbackCeiling <= 0 || config.FallbackCeiling > 1 {
		config.FallbackCeiling = 0.6
	}
	if config.MinTextRunes <= 0 {
		config.MinTextRunes = 1
	}
	return &Gateway{
		provider:  provider,
		guard:     g,
		store:     store,
		publisher: publisher,
		breaker:   breaker,
		config:    config,
		retry:     resilience.RetryOnceImmediately(),
		newID:     uuid.NewString,
		logger:    observability.ComponentLogger("stt_gateway"),
	}
}

// WithSessionCheck sets the predicate used to discard results for ended sessions
func (g *Gateway) WithSessionCheck(alive func(sessionID string) bool) *Gateway {
	g.alive = alive
	return g
}

// Transcribe converts unit into an utterance. It returns false when the unit
// was dropped: the channel was busy or cooling down, the unit had no voice,
// was too short, or its session ended while the provider was working.
func (g *Gateway) Transcribe(ctx context.Context, unit model.UtteranceAudioUnit) (*model.TextUtterance, bool) {
	if !g.guard.TryAcquire(unit.SessionID, unit.Channel) {
		observability.RecordTranscriptionSkipped("locked")
		return nil, false
	}
	defer g.guard.Release(unit.SessionID, unit.Channel, g.config.Cooldown)

	if !unit.HasVoiceActivity {
		observability.RecordTranscriptionSkipped("no_voice")
		return nil, false
	}
	if unit.DurationMs < g.config.MinDuration.Milliseconds() {
		observability.RecordTranscriptionSkipped("too_short")
		return nil, false
	}

	ctx, span := observability.StartSpan(ctx, "stt.transcribe", unit.SessionID,
		attribute.String("channel", string(unit.Channel)),
		attribute.Int64("duration_ms", unit.DurationMs))
	text, confidence, source, err := g.recognize(ctx, unit)
	observability.EndSpan(span, err)

	utt := model.TextUtterance{
		ID:         g.newID(),
		SessionID:  unit.SessionID,
		Speaker:    unit.Channel,
		Text:       text,
		Confidence: confidence,
		StartMs:    unit.StartMs,
		EndMs:      unit.EndMs,
		IsFinal:    true,
		Source:     source,
	}
	if !g.Accept(ctx, utt) {
		return nil, false
	}
	return &utt, true
}

// Accept persists and publishes utt unless its id was already seen for the
// session or the session has ended. Replayed utterances go through here too.
func (g *Gateway) Accept(ctx context.Context, utt model.TextUtterance) bool {
	if g.alive != nil && !g.alive(utt.SessionID) {
		observability.RecordTranscriptionSkipped("session_gone")
		return false
	}
	if !g.guard.MarkIfNew(utt.SessionID, utt.ID) {
		observability.RecordTranscriptionSkipped("duplicate")
		return false
	}

	logger := g.logger.With().Str("session_id", utt.SessionID).Str("utterance_id", utt.ID).Logger()
	if err := g.store.CreateUtterance(ctx, utt); err != nil {
		logger.Debug().Err(err).Msg("Utterance not persisted")
	}
	if err := g.publisher.Publish(ctx, notify.NewEvent(notify.EventUtteranceNew, utt.SessionID, utt)); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish utterance")
	}
	observability.RecordTranscription(string(utt.Source))

	logger.Debug().
		Str("speaker", string(utt.Speaker)).
		Str("source", string(utt.Source)).
		Float64("confidence", utt.Confidence).
		Msg("Utterance emitted")
	return true
}

// recognize calls the provider, retrying once, and degrades to a fallback
// placeholder when the provider fails, times out or hears nothing.
func (g *Gateway) recognize(ctx context.Context, unit model.UtteranceAudioUnit) (string, float64, model.TranscriptSource, error) {
	start := time.Now()
	res, err := resilience.RetryWithResult(ctx, g.retry, retryableProviderError, func(ctx context.Context) (*Result, error) {
		call := func() (*Result, error) {
			callCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
			defer cancel()
			return g.provider.Transcribe(callCtx, unit.Audio, g.config.Language)
		}
		if g.breaker == nil {
			return call()
		}
		return resilience.Execute(g.breaker, call)
	})
	observability.ObserveSTT(start, err == nil)

	if err == nil {
		text := Clean(res.Text)
		if len([]rune(text)) >= g.config.MinTextRunes {
			return text, ScoreConfidence(text, res.SegmentConfidences), model.SourceSTT, nil
		}
		err = ErrEmptyTranscript
	}

	fb := SynthesizeFallback(unit, g.config.FallbackCeiling)
	g.logger.Warn().Err(err).
		Str("session_id", unit.SessionID).
		Str("channel", string(unit.Channel)).
		Str("provider", g.provider.Name()).
		Int64("duration_ms", unit.DurationMs).
		Msg("Transcription degraded to fallback")
	return fb.Text, fb.Confidence, model.SourceFallback, err
}

func retryableProviderError(err error) bool {
	return !errors.Is(err, resilience.ErrCircuitOpen) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, ErrEmptyTranscript)
}

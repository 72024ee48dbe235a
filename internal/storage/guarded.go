package storage

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lexiqai/consult-gateway/internal/model"
	"github.com/lexiqai/consult-gateway/internal/observability"
)

// Guarded wraps a Store so that write failures are logged and counted
// instead of aborting the pipeline. After a failure the store reports
// itself degraded until the next successful write.
type Guarded struct {
	inner    Store
	logger   zerolog.Logger
	degraded atomic.Bool
	failures atomic.Int64
}

// NewGuarded wraps inner
func NewGuarded(inner Store) *Guarded {
	return &Guarded{inner: inner, logger: observability.ComponentLogger("storage")}
}

func (g *Guarded) record(err error, op, sessionID, id string) error {
	if err == nil {
		g.degraded.Store(false)
		return nil
	}
	g.degraded.Store(true)
	g.failures.Add(1)
	observability.RecordError("persistence", "storage")
	g.logger.Error().Err(err).
		Str("op", op).
		Str("session_id", sessionID).
		Str("id", id).
		Msg("Persistence failed, continuing")
	return err
}

// CreateUtterance implements Store; errors are logged and still returned
func (g *Guarded) CreateUtterance(ctx context.Context, u model.TextUtterance) error {
	return g.record(g.inner.CreateUtterance(ctx, u), "create_utterance", u.SessionID, u.ID)
}

// CreateSuggestion implements Store; errors are logged and still returned
func (g *Guarded) CreateSuggestion(ctx context.Context, s model.Suggestion) error {
	return g.record(g.inner.CreateSuggestion(ctx, s), "create_suggestion", s.SessionID, s.ID)
}

// MarkSuggestionUsed passes lookup errors through untouched
func (g *Guarded) MarkSuggestionUsed(ctx context.Context, suggestionID, userID string) (model.Suggestion, error) {
	s, err := g.inner.MarkSuggestionUsed(ctx, suggestionID, userID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyUsed) {
		return s, err
	}
	return s, g.record(err, "mark_suggestion_used", s.SessionID, suggestionID)
}

// Degraded reports whether the most recent write failed
func (g *Guarded) Degraded() bool {
	return g.degraded.Load()
}

// Failures returns the number of failed writes
func (g *Guarded) Failures() int64 {
	return g.failures.Load()
}

// Check is a readiness check that fails while the store is degraded
func (g *Guarded) Check(context.Context) (bool, error) {
	if g.Degraded() {
		return false, errors.New("last write to storage failed")
	}
	return true, nil
}

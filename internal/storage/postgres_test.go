package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/consult-gateway/internal/model"
)

// newTestPostgres skips unless CONSULT_TEST_POSTGRES_DSN points at a scratch database
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("CONSULT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CONSULT_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	sessionID := "test-" + uuid.NewString()

	u := model.TextUtterance{
		ID: uuid.NewString(), SessionID: sessionID, Speaker: model.ChannelPatient,
		Text: "My chest hurts.", Confidence: 0.91, StartMs: 0, EndMs: 1500, IsFinal: true, Source: model.SourceSTT,
	}
	require.NoError(t, s.CreateUtterance(ctx, u))
	require.NoError(t, s.CreateUtterance(ctx, u), "duplicate insert is a no-op")

	utts, err := s.ListUtterances(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, utts, 1)
	assert.Equal(t, u, utts[0])

	sg := model.Suggestion{
		ID: uuid.NewString(), SessionID: sessionID, UtteranceID: u.ID, Type: model.SuggestionAlert,
		Content: "Obtain a 12-lead ECG", Source: "rules", Confidence: 0.95, Priority: model.LevelCritical,
	}
	require.NoError(t, s.CreateSuggestion(ctx, sg))

	used, err := s.MarkSuggestionUsed(ctx, sg.ID, "dr-1")
	require.NoError(t, err)
	assert.True(t, used.Used)
	assert.Equal(t, "dr-1", used.UsedBy)
	assert.NotNil(t, used.UsedAt)

	_, err = s.MarkSuggestionUsed(ctx, sg.ID, "dr-2")
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	_, err = s.MarkSuggestionUsed(ctx, uuid.NewString(), "dr-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexiqai/consult-gateway/internal/model"
)

// Schema is the DDL for the utterance and suggestion tables
const Schema = `
CREATE TABLE IF NOT EXISTS consult_utterances (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    speaker     TEXT NOT NULL,
    text        TEXT NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL,
    start_ms    BIGINT NOT NULL,
    end_ms      BIGINT NOT NULL,
    is_final    BOOLEAN NOT NULL DEFAULT TRUE,
    source      TEXT NOT NULL DEFAULT 'stt',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_consult_utterances_session ON consult_utterances(session_id, start_ms);

CREATE TABLE IF NOT EXISTS consult_suggestions (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL,
    utterance_id  TEXT,
    type          TEXT NOT NULL,
    content       TEXT NOT NULL,
    source        TEXT NOT NULL DEFAULT '',
    confidence    DOUBLE PRECISION NOT NULL,
    priority      TEXT NOT NULL,
    used          BOOLEAN NOT NULL DEFAULT FALSE,
    used_at       TIMESTAMPTZ,
    used_by       TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_consult_suggestions_session ON consult_suggestions(session_id, created_at);
`

// DB is satisfied by *pgxpool.Pool and *pgx.Conn
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a Store backed by PostgreSQL
type PostgresStore struct {
	db DB
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Reader = (*PostgresStore)(nil)
)

// NewPool opens and pings a connection pool
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates a store over db. Call Migrate before use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies Schema
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// CreateUtterance implements Store
func (s *PostgresStore) CreateUtterance(ctx context.Context, u model.TextUtterance) error {
	const query = `
		INSERT INTO consult_utterances (id, session_id, speaker, text, confidence, start_ms, end_ms, is_final, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.Exec(ctx, query,
		u.ID, u.SessionID, string(u.Speaker), u.Text, u.Confidence,
		u.StartMs, u.EndMs, u.IsFinal, string(u.Source),
	)
	if err != nil {
		return fmt.Errorf("storage: create utterance: %w", err)
	}
	return nil
}

// CreateSuggestion implements Store
func (s *PostgresStore) CreateSuggestion(ctx context.Context, sg model.Suggestion) error {
	const query = `
		INSERT INTO consult_suggestions (id, session_id, utterance_id, type, content, source, confidence, priority, created_at)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING`

	createdAt := sg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, query,
		sg.ID, sg.SessionID, sg.UtteranceID, string(sg.Type), sg.Content,
		sg.Source, sg.Confidence, string(sg.Priority), createdAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create suggestion: %w", err)
	}
	return nil
}

const suggestionColumns = `id, session_id, COALESCE(utterance_id, ''), type, content, source, confidence, priority,
	used, used_at, COALESCE(used_by, ''), created_at`

func scanSuggestion(row pgx.Row) (model.Suggestion, error) {
	var sg model.Suggestion
	var typ, priority string
	err := row.Scan(&sg.ID, &sg.SessionID, &sg.UtteranceID, &typ, &sg.Content, &sg.Source,
		&sg.Confidence, &priority, &sg.Used, &sg.UsedAt, &sg.UsedBy, &sg.CreatedAt)
	sg.Type = model.SuggestionType(typ)
	sg.Priority = model.Level(priority)
	return sg, err
}

// MarkSuggestionUsed implements Store. The used flag flips at most once.
func (s *PostgresStore) MarkSuggestionUsed(ctx context.Context, suggestionID, userID string) (model.Suggestion, error) {
	query := `
		UPDATE consult_suggestions SET used = TRUE, used_at = now(), used_by = $2
		WHERE id = $1 AND used = FALSE
		RETURNING ` + suggestionColumns

	sg, err := scanSuggestion(s.db.QueryRow(ctx, query, suggestionID, userID))
	if err == nil {
		return sg, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Suggestion{}, fmt.Errorf("storage: mark suggestion used: %w", err)
	}

	// Either unknown or already used
	existing, err := scanSuggestion(s.db.QueryRow(ctx, `SELECT `+suggestionColumns+` FROM consult_suggestions WHERE id = $1`, suggestionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Suggestion{}, ErrNotFound
	}
	if err != nil {
		return model.Suggestion{}, fmt.Errorf("storage: get suggestion: %w", err)
	}
	return existing, ErrAlreadyUsed
}

// ListUtterances implements Reader
func (s *PostgresStore) ListUtterances(ctx context.Context, sessionID string) ([]model.TextUtterance, error) {
	const query = `
		SELECT id, session_id, speaker, text, confidence, start_ms, end_ms, is_final, source
		FROM consult_utterances WHERE session_id = $1 ORDER BY start_ms, created_at`

	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list utterances: %w", err)
	}
	defer rows.Close()

	var out []model.TextUtterance
	for rows.Next() {
		var u model.TextUtterance
		var speaker, source string
		if err := rows.Scan(&u.ID, &u.SessionID, &speaker, &u.Text, &u.Confidence, &u.StartMs, &u.EndMs, &u.IsFinal, &source); err != nil {
			return nil, fmt.Errorf("storage: scan utterance: %w", err)
		}
		u.Speaker = model.Channel(speaker)
		u.Source = model.TranscriptSource(source)
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListSuggestions implements Reader
func (s *PostgresStore) ListSuggestions(ctx context.Context, sessionID string) ([]model.Suggestion, error) {
	rows, err := s.db.Query(ctx, `SELECT `+suggestionColumns+` FROM consult_suggestions WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list suggestions: %w", err)
	}
	defer rows.Close()

	var out []model.Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan suggestion: %w", err)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

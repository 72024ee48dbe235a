package storage

import (
	"context"
	"sync"
	"time"

	"github.com/lexiqai/consult-gateway/internal/model"
)

// MemoryStore keeps records in process. Used when no database is configured
// and in tests.
type MemoryStore struct {
	mu          sync.RWMutex
	now         func() time.Time
	utterances  map[string]model.TextUtterance
	suggestions map[string]model.Suggestion
	bySession   map[string][]string // utterance ids in insertion order
	suggOrder   map[string][]string
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Reader = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		utterances:  make(map[string]model.TextUtterance),
		suggestions: make(map[string]model.Suggestion),
		bySession:   make(map[string][]string),
		suggOrder:   make(map[string][]string),
	}
}

// CreateUtterance implements Store
func (m *MemoryStore) CreateUtterance(_ context.Context, u model.TextUtterance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.utterances[u.ID]; ok {
		return nil
	}
	m.utterances[u.ID] = u
	m.bySession[u.SessionID] = append(m.bySession[u.SessionID], u.ID)
	return nil
}

// CreateSuggestion implements Store
func (m *MemoryStore) CreateSuggestion(_ context.Context, s model.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.suggestions[s.ID]; ok {
		return nil
	}
	m.suggestions[s.ID] = s
	m.suggOrder[s.SessionID] = append(m.suggOrder[s.SessionID], s.ID)
	return nil
}

// MarkSuggestionUsed implements Store
func (m *MemoryStore) MarkSuggestionUsed(_ context.Context, suggestionID, userID string) (model.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suggestions[suggestionID]
	if !ok {
		return model.Suggestion{}, ErrNotFound
	}
	if s.Used {
		return s, ErrAlreadyUsed
	}
	at := m.now().UTC()
	s.Used = true
	s.UsedAt = &at
	s.UsedBy = userID
	m.suggestions[suggestionID] = s
	return s, nil
}

// ListUtterances implements Reader
func (m *MemoryStore) ListUtterances(_ context.Context, sessionID string) ([]model.TextUtterance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.bySession[sessionID]
	out := make([]model.TextUtterance, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.utterances[id])
	}
	return out, nil
}

// ListSuggestions implements Reader
func (m *MemoryStore) ListSuggestions(_ context.Context, sessionID string) ([]model.Suggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.suggOrder[sessionID]
	out := make([]model.Suggestion, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.suggestions[id])
	}
	return out, nil
}

// Package guard serializes work per (session, channel) and tracks which
// utterance ids a session has already emitted.
package guard

import (
	"sync"
	"time"

	"github.com/lexiqai/consult-gateway/internal/model"
)

type slotKey struct {
	sessionID string
	channel   model.Channel
}

type slot struct {
	inProgress      bool
	availableAt     time.Time
	lastProcessedAt time.Time
}

// SlotState is a snapshot of one (session, channel) lock
type SlotState struct {
	InProgress      bool
	LastProcessedAt time.Time
	AvailableAt     time.Time
}

// Guard is a mutual-exclusion and temporal guard for pipeline stages.
// TryAcquire never blocks. A released slot stays unavailable until its
// cooldown has elapsed so that straggler frames cannot retrigger work.
type Guard struct {
	minSeparation time.Duration
	now           func() time.Time

	mu    sync.Mutex
	open  map[string]struct{}
	slots map[slotKey]*slot
	seen  map[string]map[string]struct{}
}

// New creates a guard. minSeparation is the least time between a release
// and the next successful acquire, whatever cooldown Release is given.
// Sessions must be opened before their slots or ids can be used.
func New(minSeparation time.Duration) *Guard {
	return &Guard{
		minSeparation: minSeparation,
		now:           time.Now,
		open:          make(map[string]struct{}),
		slots:         make(map[slotKey]*slot),
		seen:          make(map[string]map[string]struct{}),
	}
}

// Open admits a session. Until then, and again after ClearSession,
// TryAcquire and MarkIfNew refuse it so late work cannot recreate state.
func (g *Guard) Open(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open[sessionID] = struct{}{}
}

// IsOpen reports whether the session was opened and not cleared
func (g *Guard) IsOpen(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.open[sessionID]
	return ok
}

// TryAcquire takes the (session, channel) slot if it is free and cooled down
func (g *Guard) TryAcquire(sessionID string, channel model.Channel) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.open[sessionID]; !ok {
		return false
	}
	k := slotKey{sessionID, channel}
	s, ok := g.slots[k]
	if !ok {
		s = &slot{}
		g.slots[k] = s
	}
	if s.inProgress || g.now().Before(s.availableAt) {
		return false
	}
	s.inProgress = true
	return true
}

// Release frees the slot; it becomes acquirable again after cooldown
func (g *Guard) Release(sessionID string, channel model.Channel, cooldown time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.slots[slotKey{sessionID, channel}]
	if !ok {
		return
	}
	now := g.now()
	s.inProgress = false
	s.lastProcessedAt = now
	s.availableAt = now.Add(max(cooldown, g.minSeparation))
}

// State returns the current state of a slot
func (g *Guard) State(sessionID string, channel model.Channel) SlotState {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.slots[slotKey{sessionID, channel}]
	if !ok {
		return SlotState{}
	}
	return SlotState{InProgress: s.inProgress, LastProcessedAt: s.lastProcessedAt, AvailableAt: s.availableAt}
}

// IsDuplicate reports whether id was already marked for the session
func (g *Guard) IsDuplicate(sessionID, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.seen[sessionID][id]
	return ok
}

// MarkSeen records id for an open session
func (g *Guard) MarkSeen(sessionID, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.open[sessionID]; ok {
		g.markLocked(sessionID, id)
	}
}

// MarkIfNew marks id and reports true only for its first sighting.
// It is the atomic form of IsDuplicate followed by MarkSeen.
func (g *Guard) MarkIfNew(sessionID, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.open[sessionID]; !ok {
		return false
	}
	if _, ok := g.seen[sessionID][id]; ok {
		return false
	}
	g.markLocked(sessionID, id)
	return true
}

func (g *Guard) markLocked(sessionID, id string) {
	ids, ok := g.seen[sessionID]
	if !ok {
		ids = make(map[string]struct{})
		g.seen[sessionID] = ids
	}
	ids[id] = struct{}{}
}

// SeenCount returns how many ids the session has marked
func (g *Guard) SeenCount(sessionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen[sessionID])
}

// ClearSession drops every slot and id recorded for the session and closes it
func (g *Guard) ClearSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.open, sessionID)
	for k := range g.slots {
		if k.sessionID == sessionID {
			delete(g.slots, k)
		}
	}
	delete(g.seen, sessionID)
}

// Package notify delivers pipeline results to real-time clients.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// EventType names a notification event
type EventType string

const (
	EventUtteranceNew  EventType = "utterance:new"
	EventSuggestionNew EventType = "suggestion:new"
)

// Event is one typed notification for a session
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Payload   any       `json:"payload"`
	EmittedAt time.Time `json:"emittedAt"`
}

// NewEvent stamps an event with the current time
func NewEvent(t EventType, sessionID string, payload any) Event {
	return Event{Type: t, SessionID: sessionID, Payload: payload, EmittedAt: time.Now().UTC()}
}

// Encode returns the JSON wire form of the event
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Delivery is fire-and-forget for callers:
// errors are reported for logging, never for control flow.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Multi fans an event out to every publisher
type Multi []Publisher

// Publish delivers to all publishers and joins their errors
func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event
type Discard struct{}

// Publish implements Publisher
func (Discard) Publish(context.Context, Event) error { return nil }

// Package storage persists utterances and suggestions.
package storage

import (
	"context"
	"errors"

	"github.com/lexiqai/consult-gateway/internal/model"
)

var (
	// ErrNotFound is returned when a suggestion id is unknown
	ErrNotFound = errors.New("not found")
	// ErrAlreadyUsed is returned when a suggestion was already marked used
	ErrAlreadyUsed = errors.New("suggestion already marked used")
)

// Store is the persistence collaborator of the pipeline.
// Creating a record whose id already exists is a no-op.
type Store interface {
	CreateUtterance(ctx context.Context, u model.TextUtterance) error
	CreateSuggestion(ctx context.Context, s model.Suggestion) error
	MarkSuggestionUsed(ctx context.Context, suggestionID, userID string) (model.Suggestion, error)
}

// Reader lists what a session has stored so far
type Reader interface {
	ListUtterances(ctx context.Context, sessionID string) ([]model.TextUtterance, error)
	ListSuggestions(ctx context.Context, sessionID string) ([]model.Suggestion, error)
}

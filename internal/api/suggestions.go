// Package api exposes the clinician-facing HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lexiqai/consult-gateway/internal/model"
	"github.com/lexiqai/consult-gateway/internal/observability"
	"github.com/lexiqai/consult-gateway/internal/storage"
)

// UsageMarker records that a clinician acted on a suggestion
type UsageMarker interface {
	MarkSuggestionUsed(ctx context.Context, suggestionID, userID string) (model.Suggestion, error)
}

type markUsedRequest struct {
	UserID string `json:"userId"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Routes registers the API on mux
func Routes(mux *http.ServeMux, marker UsageMarker) {
	h := &handler{marker: marker, logger: observability.ComponentLogger("api")}
	mux.HandleFunc("POST /sessions/{sessionId}/suggestions/{suggestionId}/used", h.markUsed)
}

type handler struct {
	marker UsageMarker
	logger zerolog.Logger
}

// markUsed handles POST /sessions/{sessionId}/suggestions/{suggestionId}/used
func (h *handler) markUsed(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	suggestionID := r.PathValue("suggestionId")

	var req markUsedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "userId is required"})
		return
	}

	s, err := h.marker.MarkSuggestionUsed(r.Context(), suggestionID, req.UserID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "suggestion not found"})
		return
	case errors.Is(err, storage.ErrAlreadyUsed):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	case err != nil:
		h.logger.Error().Err(err).Str("suggestion_id", suggestionID).Msg("Failed to mark suggestion used")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}

	// Suggestion ids are globally unique; the path session must still agree
	if s.SessionID != sessionID {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "suggestion not found"})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

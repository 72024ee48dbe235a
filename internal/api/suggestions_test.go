package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/consult-gateway/internal/model"
	"github.com/lexiqai/consult-gateway/internal/storage"
)

func newServer(t *testing.T) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateSuggestion(context.Background(), model.Suggestion{
		ID: "sg-1", SessionID: "s1", Type: model.SuggestionQuestion, Content: "When did it start?",
	}))
	mux := http.NewServeMux()
	Routes(mux, store)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMarkUsed(t *testing.T) {
	srv, store := newServer(t)

	resp := post(t, srv, "/sessions/s1/suggestions/sg-1/used", `{"userId":"dr-lee"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.Suggestion
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Used)
	assert.Equal(t, "dr-lee", got.UsedBy)
	assert.NotNil(t, got.UsedAt)

	list, err := store.ListSuggestions(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Used)

	again := post(t, srv, "/sessions/s1/suggestions/sg-1/used", `{"userId":"dr-lee"}`)
	assert.Equal(t, http.StatusConflict, again.StatusCode)
}

func TestMarkUsed_Errors(t *testing.T) {
	srv, _ := newServer(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"missing user", "/sessions/s1/suggestions/sg-1/used", `{}`, http.StatusBadRequest},
		{"malformed body", "/sessions/s1/suggestions/sg-1/used", `{"userId":`, http.StatusBadRequest},
		{"unknown suggestion", "/sessions/s1/suggestions/nope/used", `{"userId":"u"}`, http.StatusNotFound},
		{"wrong session", "/sessions/s2/suggestions/sg-1/used", `{"userId":"u"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, post(t, srv, tt.path, tt.body).StatusCode)
		})
	}
}

func TestMarkUsed_MethodNotAllowed(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/sessions/s1/suggestions/sg-1/used")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

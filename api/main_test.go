package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/semantic-news/backend/internal/config"
	"github.com/DeafMist/semantic-news/backend/internal/logger"
	"github.com/DeafMist/semantic-news/backend/internal/models"
)

type stubSearcher struct {
	hits  []models.Hit
	err   error
	query string
	topK  int
}

func (s *stubSearcher) Search(_ context.Context, query string, topK int) ([]models.Hit, error) {
	s.query, s.topK = query, topK
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > topK {
		return s.hits[:topK], nil
	}
	return s.hits, nil
}

type stubHealth struct{ err error }

func (s stubHealth) Health(context.Context) error { return s.err }

func newTestServer(s *stubSearcher, h stubHealth) http.Handler {
	cfg := &config.API{DefaultTopK: 5, MaxTopK: 20}
	return newServer(logger.Discard(), cfg, s, h).routes()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSearchTextFormatsHits(t *testing.T) {
	s := &stubSearcher{hits: []models.Hit{
		{ID: "http://x/1", Title: "Storm", Snippet: "Rain", Score: 0.8},
		{ID: "http://x/2", Title: "Vote", Snippet: "Count", Score: 0.5},
	}}
	rec := get(t, newTestServer(s, stubHealth{}), "/search?q=storm+news&top_k=1")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Equal(t, "storm news", s.query)
	require.Equal(t, 1, s.topK)
	require.Equal(t, 1, strings.Count(rec.Body.String(), "Result "))
	require.Contains(t, rec.Body.String(), "Score: 0.8000")
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	h := newTestServer(&stubSearcher{}, stubHealth{})

	require.Equal(t, http.StatusBadRequest, get(t, h, "/search?q=+").Code)
	require.Equal(t, http.StatusBadRequest, get(t, h, "/api/search").Code)
}

func TestSearchJSON(t *testing.T) {
	s := &stubSearcher{hits: []models.Hit{{ID: "http://x/1", Title: "Storm", Score: 0.9}}}
	rec := get(t, newTestServer(s, stubHealth{}), "/api/search?q=storm&top_k=500")

	require.Equal(t, http.StatusOK, rec.Code)
	var body searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "storm", body.Query)
	require.Equal(t, 20, body.TopK)
	require.Equal(t, 20, s.topK)
	require.Len(t, body.Hits, 1)
	require.Equal(t, "http://x/1", body.Hits[0].ID)
}

func TestSearchJSONEmptyHitsIsArray(t *testing.T) {
	rec := get(t, newTestServer(&stubSearcher{}, stubHealth{}), "/api/search?q=nothing")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"hits":[]`)
}

func TestSearchBackendFailure(t *testing.T) {
	s := &stubSearcher{err: errors.New("cluster down")}
	rec := get(t, newTestServer(s, stubHealth{}), "/api/search?q=storm")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "cluster down")
}

func TestPage(t *testing.T) {
	s := &stubSearcher{hits: []models.Hit{{ID: "http://x/1", Title: "Storm <b>", Score: 0.9}}}
	h := newTestServer(s, stubHealth{})

	rec := get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `type="range"`)
	require.Contains(t, rec.Body.String(), `max="20"`)
	require.Contains(t, rec.Body.String(), `value="5"`)
	require.NotContains(t, rec.Body.String(), "Search Results")

	rec = get(t, h, "/?q=storm&top_k=3")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Result 1:")
	require.Contains(t, rec.Body.String(), "Storm &lt;b&gt;")
	require.Equal(t, 3, s.topK)
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(&stubSearcher{}, stubHealth{}), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, newTestServer(&stubSearcher{}, stubHealth{err: errors.New("red")}), "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 5},
		{"abc", 5},
		{"0", 1},
		{"-3", 1},
		{"7", 7},
		{"21", 20},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, clampInt(tt.raw, 5, 1, 20), tt.raw)
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/semantic-news/backend/internal/config"
	"github.com/DeafMist/semantic-news/backend/internal/models"
	"github.com/DeafMist/semantic-news/backend/internal/search"
)

type searcher interface {
	Search(ctx context.Context, query string, topK int) ([]models.Hit, error)
}

type healthChecker interface {
	Health(ctx context.Context) error
}

type server struct {
	log    *slog.Logger
	cfg    *config.API
	search searcher
	health healthChecker
}

func newServer(log *slog.Logger, cfg *config.API, s searcher, h healthChecker) *server {
	return &server{log: log, cfg: cfg, search: s, health: h}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handlePage)
	r.Get("/search", s.handleSearchText)
	r.Get("/api/search", s.handleSearchJSON)
	r.Get("/health", s.handleHealth)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type searchResponse struct {
	Query string       `json:"query"`
	TopK  int          `json:"top_k"`
	Hits  []models.Hit `json:"hits"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleSearchText(w http.ResponseWriter, r *http.Request) {
	query, topK := s.params(r)
	hits, status, err := s.run(r, query, topK)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(search.Format(hits)))
}

func (s *server) handleSearchJSON(w http.ResponseWriter, r *http.Request) {
	query, topK := s.params(r)
	hits, status, err := s.run(r, query, topK)
	if err != nil {
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	if hits == nil {
		hits = []models.Hit{}
	}

	writeJSON(w, http.StatusOK, searchResponse{Query: query, TopK: topK, Hits: hits})
}

type pageData struct {
	Query   string
	TopK    int
	MaxTopK int
	Results string
	Error   string
	Ran     bool
}

func (s *server) handlePage(w http.ResponseWriter, r *http.Request) {
	query, topK := s.params(r)
	data := pageData{Query: query, TopK: topK, MaxTopK: s.cfg.MaxTopK}

	if query != "" {
		data.Ran = true
		hits, _, err := s.run(r, query, topK)
		if err != nil {
			data.Error = err.Error()
		} else {
			data.Results = search.Format(hits)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		s.log.Error("render page", slog.Any("err", err))
	}
}

func (s *server) params(r *http.Request) (string, int) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	topK := clampInt(r.URL.Query().Get("top_k"), s.cfg.DefaultTopK, 1, s.cfg.MaxTopK)
	return query, topK
}

func (s *server) run(r *http.Request, query string, topK int) ([]models.Hit, int, error) {
	if query == "" {
		return nil, http.StatusBadRequest, search.ErrEmptyQuery
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	start := time.Now()
	hits, err := s.search.Search(ctx, query, topK)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			return nil, http.StatusBadRequest, err
		}
		s.log.Error("search failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("err", err),
		)
		return nil, http.StatusInternalServerError, err
	}

	s.log.Info("search",
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("query", query),
		slog.Int("top_k", topK),
		slog.Int("hits", len(hits)),
		slog.Duration("took", time.Since(start)),
	)
	return hits, http.StatusOK, nil
}

// clampInt parses raw and clamps it to [lo, hi]. Empty or invalid input
// yields fallback.
func clampInt(raw string, fallback, lo, hi int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>News Search Engine</title>
<style>
body { font-family: sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; }
input[type=text] { width: 100%; padding: .5rem; font-size: 1rem; }
pre { white-space: pre-wrap; background: #f6f6f6; padding: 1rem; }
.error { color: #b00020; }
</style>
</head>
<body>
<h1>News Search Engine</h1>
<p>Enter a query to search for relevant news articles.</p>
<form method="get" action="/">
  <label for="q">Search Query</label>
  <input type="text" id="q" name="q" value="{{.Query}}" autofocus>
  <label for="top_k">Number of results: <output id="top_k_value">{{.TopK}}</output></label>
  <input type="range" id="top_k" name="top_k" min="1" max="{{.MaxTopK}}" step="1" value="{{.TopK}}"
         oninput="document.getElementById('top_k_value').value = this.value">
  <button type="submit">Search</button>
</form>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{if .Ran}}<h2>Search Results</h2>
<pre>{{if .Results}}{{.Results}}{{else}}No results.{{end}}</pre>{{end}}
</body>
</html>
`))

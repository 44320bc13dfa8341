// Package search answers free-text queries against the news collection.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DeafMist/semantic-news/backend/internal/embedding"
	"github.com/DeafMist/semantic-news/backend/internal/models"
	"github.com/DeafMist/semantic-news/backend/internal/schema"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("query must not be empty")

// OutputFields are the document fields returned with every hit.
var OutputFields = []string{schema.FieldID, schema.FieldTitle, schema.FieldSnippet}

// Store runs a nearest-neighbour query over stored vectors.
type Store interface {
	Search(ctx context.Context, vector []float32, limit int, fields []string) ([]models.Hit, error)
}

// Service holds everything a query needs: the store, the embedding model and
// the collection name. It is built once at startup.
type Service struct {
	store      Store
	embedder   embedding.Embedder
	collection string
}

// NewService creates a Service.
func NewService(store Store, embedder embedding.Embedder, collection string) *Service {
	return &Service{store: store, embedder: embedder, collection: collection}
}

// Collection returns the searched collection name.
func (s *Service) Collection() string {
	return s.collection
}

// Search embeds query and returns up to topK hits, best first.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]models.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	vector, err := embedding.EmbedOne(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.store.Search(ctx, vector, topK, OutputFields)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.collection, err)
	}
	return hits, nil
}

// SearchText runs Search and renders the hits with Format.
func (s *Service) SearchText(ctx context.Context, query string, topK int) (string, error) {
	hits, err := s.Search(ctx, query, topK)
	if err != nil {
		return "", err
	}
	return Format(hits), nil
}

const rule = "--------------------------------------------------"

// Format renders hits as numbered plain-text blocks separated by a rule.
// No hits yields the empty string.
func Format(hits []models.Hit) string {
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "Result %d:\n", i+1)
		fmt.Fprintf(&b, "ID: %s\n", h.ID)
		fmt.Fprintf(&b, "Title: %s\n", h.Title)
		fmt.Fprintf(&b, "Snippet: %s\n", h.Snippet)
		fmt.Fprintf(&b, "Score: %.4f\n", h.Score)
		b.WriteString(rule)
		b.WriteByte('\n')
	}
	return b.String()
}

package search_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/semantic-news/backend/internal/embedding"
	"github.com/DeafMist/semantic-news/backend/internal/models"
	"github.com/DeafMist/semantic-news/backend/internal/search"
)

type stubStore struct {
	hits   []models.Hit
	err    error
	vector []float32
	limit  int
	fields []string
}

func (s *stubStore) Search(_ context.Context, vector []float32, limit int, fields []string) ([]models.Hit, error) {
	s.vector, s.limit, s.fields = vector, limit, fields
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > limit {
		return s.hits[:limit], nil
	}
	return s.hits, nil
}

func TestFormat(t *testing.T) {
	hits := []models.Hit{
		{ID: "http://x/1", Title: "Storm hits coast", Snippet: "Heavy rain", Score: 0.8},
		{ID: "http://x/2", Score: 0.25},
	}

	out := search.Format(hits)
	require.Equal(t, 2, strings.Count(out, "Result "))
	require.Equal(t, "Result 1:\n"+
		"ID: http://x/1\n"+
		"Title: Storm hits coast\n"+
		"Snippet: Heavy rain\n"+
		"Score: 0.8000\n"+
		strings.Repeat("-", 50)+"\n"+
		"Result 2:\n"+
		"ID: http://x/2\n"+
		"Title: \n"+
		"Snippet: \n"+
		"Score: 0.2500\n"+
		strings.Repeat("-", 50)+"\n", out)
}

func TestFormatNoHits(t *testing.T) {
	require.Equal(t, "", search.Format(nil))
	require.Equal(t, "", search.Format([]models.Hit{}))
}

func TestServiceSearch(t *testing.T) {
	store := &stubStore{hits: []models.Hit{
		{ID: "a", Score: 0.9}, {ID: "b", Score: 0.8}, {ID: "c", Score: 0.7},
	}}
	emb := embedding.NewHash(8)
	svc := search.NewService(store, emb, "people_news")

	hits, err := svc.Search(context.Background(), "storm", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, 2, store.limit)
	require.Equal(t, []string{"id", "title", "snippet"}, store.fields)

	want, err := embedding.EmbedOne(context.Background(), emb, "storm")
	require.NoError(t, err)
	require.Equal(t, want, store.vector)

	text, err := svc.SearchText(context.Background(), "storm", 3)
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(text, "Result "))
}

func TestServiceSearchErrors(t *testing.T) {
	boom := errors.New("cluster down")
	svc := search.NewService(&stubStore{err: boom}, embedding.NewHash(8), "people_news")

	_, err := svc.Search(context.Background(), "   ", 5)
	require.ErrorIs(t, err, search.ErrEmptyQuery)

	_, err = svc.SearchText(context.Background(), "storm", 5)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "people_news")
}

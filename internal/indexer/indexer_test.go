package indexer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/semantic-news/backend/internal/embedding"
	"github.com/DeafMist/semantic-news/backend/internal/indexer"
	"github.com/DeafMist/semantic-news/backend/internal/models"
	"github.com/DeafMist/semantic-news/backend/internal/processing"
	"github.com/DeafMist/semantic-news/backend/internal/schema"
)

type stubCollection struct {
	name    string
	exists  bool
	calls   []string
	docs    []models.Document
	indexed string
}

func (s *stubCollection) Collection() string { return s.name }

func (s *stubCollection) HasCollection(context.Context) (bool, error) {
	s.calls = append(s.calls, "has")
	return s.exists, nil
}

func (s *stubCollection) DropCollection(context.Context) error {
	s.calls = append(s.calls, "drop")
	s.exists = false
	s.docs = nil
	return nil
}

func (s *stubCollection) CreateCollection(context.Context, *schema.Schema) error {
	s.calls = append(s.calls, "create")
	if s.exists {
		return errors.New("already exists")
	}
	s.exists = true
	return nil
}

func (s *stubCollection) Insert(_ context.Context, docs []models.Document, _ int) (int, error) {
	s.calls = append(s.calls, "insert")
	s.docs = append(s.docs, docs...)
	return len(docs), nil
}

func (s *stubCollection) CreateIndex(_ context.Context, _ *schema.Schema, name string) error {
	s.calls = append(s.calls, "index")
	s.indexed = name
	return nil
}

func TestEnsureCollection(t *testing.T) {
	tests := []struct {
		name     string
		exists   bool
		recreate bool
		want     []string
	}{
		{name: "missing", exists: false, recreate: false, want: []string{"has", "create"}},
		{name: "missing recreate", exists: false, recreate: true, want: []string{"has", "create"}},
		{name: "exists keep", exists: true, recreate: false, want: []string{"has"}},
		{name: "exists recreate", exists: true, recreate: true, want: []string{"has", "drop", "create"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coll := &stubCollection{name: "people_news", exists: tt.exists}
			s := schema.Default("people_news", 8, "COSINE", "HNSW")
			require.NoError(t, indexer.EnsureCollection(context.Background(), coll, s, tt.recreate, nil))
			require.Equal(t, tt.want, coll.calls)
			require.True(t, coll.exists)
		})
	}
}

func writeArticles(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func TestRunIndexesAllArticleFiles(t *testing.T) {
	dir := t.TempDir()
	writeArticles(t, dir, "public_fr.jsonl",
		`{"link":"http://x/1","title":"Storm hits coast","summary":"Heavy rain","published_parsed":"2024-01-02T03:04:05Z"}`,
		`{"link":"http://x/2","title":"Election results","summary":"Votes counted"}`,
	)
	writeArticles(t, dir, "tech.jsonl",
		`{"link":"http://y/1","title":"New chip","summary":"Faster"}`,
	)

	coll := &stubCollection{name: "people_news"}
	s := schema.Default("people_news", 16, "COSINE", "HNSW")
	res, err := indexer.Run(context.Background(), coll, embedding.NewHash(16), s,
		indexer.Options{ArticlesDir: dir, Recreate: true, BulkSize: 2}, nil)
	require.NoError(t, err)

	require.Equal(t, indexer.Result{Articles: 3, Inserted: 3}, res)
	require.Equal(t, []string{"has", "create", "insert", "index"}, coll.calls)
	require.Equal(t, "people_news", coll.indexed)

	require.Len(t, coll.docs, 3)
	require.Equal(t, "http://x/1", coll.docs[0].ID)
	require.Equal(t, "Heavy rain", coll.docs[0].Snippet)
	require.Equal(t, float64(1704164645), coll.docs[0].PublishedDate)
	require.Equal(t, "http://y/1", coll.docs[2].ID)
	require.Len(t, coll.docs[2].Vector, 16)
}

func TestRunStopsBeforeInsertOnInvalidArticle(t *testing.T) {
	dir := t.TempDir()
	writeArticles(t, dir, "feed.jsonl",
		`{"link":"http://x/1","title":"ok","summary":"ok"}`,
		`{"link":"http://x/2","summary":"no title"}`,
	)

	coll := &stubCollection{name: "news"}
	_, err := indexer.Run(context.Background(), coll, embedding.NewHash(8),
		schema.Default("news", 8, "COSINE", "HNSW"), indexer.Options{ArticlesDir: dir}, nil)

	var missing *processing.MissingFieldsError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, 2, missing.Line)
	require.Equal(t, []string{"title"}, missing.Fields)
	require.NotContains(t, coll.calls, "insert")
}

func TestFailedRunKeepsExistingCollection(t *testing.T) {
	dir := t.TempDir()
	writeArticles(t, dir, "feed.jsonl",
		`{"link":"http://x/1","title":"ok","summary":"ok"}`,
		`{"link":"http://x/2","summary":"no title"}`,
	)

	coll := &stubCollection{name: "news", exists: true}
	_, err := indexer.Run(context.Background(), coll, embedding.NewHash(8),
		schema.Default("news", 8, "COSINE", "HNSW"), indexer.Options{ArticlesDir: dir, Recreate: true}, nil)
	require.Error(t, err)
	require.Empty(t, coll.calls, "collection is not touched before the documents are ready")
	require.True(t, coll.exists)

	_, err = indexer.Run(context.Background(), coll, embedding.NewHash(8),
		schema.Default("news", 8, "COSINE", "HNSW"), indexer.Options{ArticlesDir: filepath.Join(dir, "missing"), Recreate: true}, nil)
	require.Error(t, err)
	require.Empty(t, coll.calls)
}

func TestRunRejectsOverlongTitle(t *testing.T) {
	dir := t.TempDir()
	writeArticles(t, dir, "feed.jsonl",
		`{"link":"http://x/1","title":"`+strings.Repeat("a", 1001)+`","summary":"s"}`,
	)

	coll := &stubCollection{name: "news"}
	_, err := indexer.Run(context.Background(), coll, embedding.NewHash(8),
		schema.Default("news", 8, "COSINE", "HNSW"), indexer.Options{ArticlesDir: dir}, nil)

	var fieldErr *schema.FieldError
	require.ErrorAs(t, err, &fieldErr)
	require.Equal(t, "title", fieldErr.Field)
	require.Empty(t, coll.docs)
}

func TestRunWithNoArticlesStillBuildsIndex(t *testing.T) {
	coll := &stubCollection{name: "news"}
	res, err := indexer.Run(context.Background(), coll, embedding.NewHash(8),
		schema.Default("news", 8, "COSINE", "HNSW"), indexer.Options{ArticlesDir: t.TempDir()}, nil)
	require.NoError(t, err)
	require.Zero(t, res.Inserted)
	require.Equal(t, "news", coll.indexed)
}

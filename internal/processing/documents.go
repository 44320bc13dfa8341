package processing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DeafMist/semantic-news/backend/internal/embedding"
	"github.com/DeafMist/semantic-news/backend/internal/models"
)

// RequiredFields must be present in every article that is indexed.
var RequiredFields = []string{"link", "title", "summary"}

var (
	// ErrNilArticles is returned when no article collection is passed at all.
	ErrNilArticles = errors.New("articles must not be nil")
	// ErrDimensionMismatch is returned when an embedding has the wrong size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// MissingFieldsError reports an article without one or more required fields.
// Line is the 1-based position of the article in the input.
type MissingFieldsError struct {
	Line   int
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("article at line %d is missing required fields: %s", e.Line, strings.Join(e.Fields, ", "))
}

// InvalidFieldError reports a required field whose value is not a string.
type InvalidFieldError struct {
	Line  int
	Field string
	Value any
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("article at line %d: field %s must be a string, got %T", e.Line, e.Field, e.Value)
}

// Validate checks the required fields of the article at the given 1-based
// position.
func Validate(line int, article models.Article) error {
	var missing []string
	for _, key := range RequiredFields {
		if _, ok := article[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Line: line, Fields: missing}
	}

	for _, key := range RequiredFields {
		if _, ok := article.String(key); !ok {
			return &InvalidFieldError{Line: line, Field: key, Value: article[key]}
		}
	}
	return nil
}

// CreateDocuments validates every article, embeds the titles and returns one
// document per article in input order. Validation runs over the whole input
// before any embedding, so an invalid article yields no documents at all.
func CreateDocuments(ctx context.Context, articles []models.Article, embedder embedding.Embedder) ([]models.Document, error) {
	if articles == nil {
		return nil, ErrNilArticles
	}

	for i, article := range articles {
		if err := Validate(i+1, article); err != nil {
			return nil, err
		}
	}

	docs := make([]models.Document, len(articles))
	titles := make([]string, len(articles))
	for i, article := range articles {
		link, _ := article.String("link")
		title, _ := article.String("title")
		summary, _ := article.String("summary")

		docs[i] = models.Document{
			ID:            link,
			Title:         title,
			Snippet:       summary,
			PublishedDate: PublishedDate(article),
		}
		titles[i] = title
	}

	if len(docs) == 0 {
		return docs, nil
	}

	vectors, err := embedder.EmbedDocuments(ctx, titles)
	if err != nil {
		return nil, fmt.Errorf("embed titles: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embed titles: got %d vectors for %d articles", len(vectors), len(docs))
	}

	dim := embedder.Dimension()
	for i := range docs {
		if len(vectors[i]) != dim {
			return nil, fmt.Errorf("%w: article at line %d has %d, want %d", ErrDimensionMismatch, i+1, len(vectors[i]), dim)
		}
		docs[i].Vector = vectors[i]
	}

	return docs, nil
}

// CreateDocument builds the document for a single article.
func CreateDocument(ctx context.Context, article models.Article, embedder embedding.Embedder) (models.Document, error) {
	docs, err := CreateDocuments(ctx, []models.Article{article}, embedder)
	if err != nil {
		return models.Document{}, err
	}
	return docs[0], nil
}

var dateKeys = []string{"published_parsed", "published", "updated_parsed", "updated"}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// PublishedDate returns the article's publication time as Unix seconds, or 0
// when no date field parses.
func PublishedDate(article models.Article) float64 {
	for _, key := range dateKeys {
		raw, ok := article.String(key)
		if !ok {
			continue
		}
		if ts := parseTimestamp(raw); !ts.IsZero() {
			return float64(ts.Unix())
		}
	}
	return 0
}

func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	for _, f := range dateLayouts {
		if ts, err := time.Parse(f, raw); err == nil {
			return ts
		}
	}

	return time.Time{}
}

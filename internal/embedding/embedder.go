// Package embedding turns text into dense vectors. Documents and queries go
// through separate calls so asymmetric models can prefix them differently;
// both must come from the same model for search results to be meaningful.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/DeafMist/semantic-news/backend/internal/config"
)

// Embedder encodes texts into fixed-dimension vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQueries(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// ErrDimension is returned when the model answers with vectors of an
// unexpected size.
var ErrDimension = errors.New("embedding dimension mismatch")

// FromConfig builds the embedder selected by cfg.Provider.
func FromConfig(cfg config.Embedding) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(OpenAIOptions{
			BaseURL:        cfg.BaseURL,
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			Dimension:      cfg.Dimension,
			BatchSize:      cfg.BatchSize,
			QueryPrefix:    cfg.QueryPrefix,
			DocumentPrefix: cfg.DocumentPrefix,
		})
	case "hash":
		return NewHash(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// EmbedOne embeds a single query.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.EmbedQueries(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	return vecs[0], nil
}

// batches splits texts into consecutive slices of at most size elements.
func batches(texts []string, size int) [][]string {
	if len(texts) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]string, 0, (len(texts)+size-1)/size)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		out = append(out, texts[start:end])
	}
	return out
}

func withPrefix(prefix string, texts []string) []string {
	if prefix == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}

// normalize scales v to unit length in place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// Hash is a deterministic bag-of-words embedder. It needs no model server and
// gives overlapping titles nearby vectors, which is enough for local runs and
// tests but not for real semantic search.
type Hash struct {
	dim int
}

// NewHash creates a hash embedder producing vectors of size dim.
func NewHash(dim int) *Hash {
	return &Hash{dim: dim}
}

// EmbedDocuments embeds texts at indexing time.
func (h *Hash) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	return h.embed(texts), nil
}

// EmbedQueries embeds texts at query time.
func (h *Hash) EmbedQueries(_ context.Context, texts []string) ([][]float32, error) {
	return h.embed(texts), nil
}

// Dimension returns the embedding dimension.
func (h *Hash) Dimension() int {
	return h.dim
}

// Model returns the model name.
func (h *Hash) Model() string {
	return "hash-bow-v1"
}

func (h *Hash) embed(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.vector(text)
	}
	return out
}

func (h *Hash) vector(text string) []float32 {
	vec := make([]float32, h.dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, token := range tokens {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(token))
		sum := hasher.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	if isZero(vec) && h.dim > 0 {
		// Cosine similarity is undefined for a zero vector, so text without
		// tokens maps to a fixed unit vector.
		vec[0] = 1
	}
	normalize(vec)
	return vec
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

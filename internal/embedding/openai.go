package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIOptions configures an OpenAI-compatible embeddings endpoint. Any
// server implementing POST /embeddings works, so a sentence-transformer model
// served locally is reached the same way as the hosted API.
type OpenAIOptions struct {
	BaseURL        string
	APIKey         string
	Model          string
	Dimension      int
	BatchSize      int
	QueryPrefix    string
	DocumentPrefix string
}

// OpenAI embeds texts through the embeddings API.
type OpenAI struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAI creates an embedder for the given endpoint.
func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if opts.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	if opts.Dimension <= 0 {
		return nil, errors.New("embedding dimension must be positive")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	return &OpenAI{client: openai.NewClientWithConfig(cfg), opts: opts}, nil
}

// EmbedDocuments embeds texts at indexing time.
func (e *OpenAI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, withPrefix(e.opts.DocumentPrefix, texts))
}

// EmbedQueries embeds texts at query time.
func (e *OpenAI) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, withPrefix(e.opts.QueryPrefix, texts))
}

// Dimension returns the embedding dimension.
func (e *OpenAI) Dimension() int {
	return e.opts.Dimension
}

// Model returns the model name.
func (e *OpenAI) Model() string {
	return e.opts.Model
}

func (e *OpenAI) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, e.opts.BatchSize) {
		vecs, err := e.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAI) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.opts.Model),
	}
	// Only the text-embedding-3 family accepts a requested output size.
	if strings.HasPrefix(e.opts.Model, "text-embedding-3") {
		req.Dimensions = e.opts.Dimension
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, item := range data {
		if len(item.Embedding) != e.opts.Dimension {
			return nil, fmt.Errorf("%w: model %s returned %d, want %d", ErrDimension, e.opts.Model, len(item.Embedding), e.opts.Dimension)
		}
		v := make([]float32, len(item.Embedding))
		for j, x := range item.Embedding {
			v[j] = float32(x)
		}
		normalize(v)
		out[i] = v
	}
	return out, nil
}

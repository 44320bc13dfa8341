// Package indexer loads fetched articles, embeds them and writes them to a
// vector collection with a similarity index.
package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DeafMist/semantic-news/backend/internal/articles"
	"github.com/DeafMist/semantic-news/backend/internal/embedding"
	"github.com/DeafMist/semantic-news/backend/internal/logger"
	"github.com/DeafMist/semantic-news/backend/internal/models"
	"github.com/DeafMist/semantic-news/backend/internal/processing"
	"github.com/DeafMist/semantic-news/backend/internal/schema"
)

// Collection is the vector store the indexer writes to.
type Collection interface {
	Collection() string
	HasCollection(ctx context.Context) (bool, error)
	DropCollection(ctx context.Context) error
	CreateCollection(ctx context.Context, s *schema.Schema) error
	Insert(ctx context.Context, docs []models.Document, batchSize int) (int, error)
	CreateIndex(ctx context.Context, s *schema.Schema, name string) error
}

// Options controls a single indexing run.
type Options struct {
	ArticlesDir string
	Recreate    bool
	BulkSize    int
}

// Result counts what a run wrote.
type Result struct {
	Articles int
	Inserted int
}

// EnsureCollection makes sure the collection exists. An existing collection
// is kept unless recreate is set, in which case it is dropped first.
func EnsureCollection(ctx context.Context, coll Collection, s *schema.Schema, recreate bool, log *slog.Logger) error {
	if log == nil {
		log = logger.Discard()
	}
	name := coll.Collection()

	exists, err := coll.HasCollection(ctx)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}

	if exists {
		if !recreate {
			log.Info("collection exists, keeping it", slog.String("collection", name))
			return nil
		}
		if err := coll.DropCollection(ctx); err != nil {
			return fmt.Errorf("drop collection: %w", err)
		}
		log.Info("collection dropped", slog.String("collection", name))
	}

	if err := coll.CreateCollection(ctx, s); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	log.Info("collection created", slog.String("collection", name))
	return nil
}

// Run loads every article file in opts.ArticlesDir, embeds and validates the
// documents, and only then ensures the collection, inserts the documents and
// builds the similarity index named after the collection. A run that fails
// before the insert leaves an existing collection untouched.
func Run(ctx context.Context, coll Collection, embedder embedding.Embedder, s *schema.Schema, opts Options, log *slog.Logger) (Result, error) {
	if log == nil {
		log = logger.Discard()
	}
	var res Result

	loaded, err := articles.Load(opts.ArticlesDir)
	if err != nil {
		return res, fmt.Errorf("load articles: %w", err)
	}
	res.Articles = len(loaded)
	log.Info("articles loaded", slog.Int("count", len(loaded)), slog.String("dir", opts.ArticlesDir))

	docs, err := processing.CreateDocuments(ctx, loaded, embedder)
	if err != nil {
		return res, fmt.Errorf("create documents: %w", err)
	}
	if err := s.ValidateDocuments(docs); err != nil {
		return res, fmt.Errorf("validate documents: %w", err)
	}

	if err := EnsureCollection(ctx, coll, s, opts.Recreate, log); err != nil {
		return res, err
	}

	res.Inserted, err = coll.Insert(ctx, docs, opts.BulkSize)
	if err != nil {
		return res, fmt.Errorf("insert documents: %w", err)
	}
	log.Info("documents inserted", slog.Int("count", res.Inserted))

	name := coll.Collection()
	if err := coll.CreateIndex(ctx, s, name); err != nil {
		return res, fmt.Errorf("create index: %w", err)
	}
	log.Info("index created",
		slog.String("index", name),
		slog.String("metric", s.Index.Metric),
		slog.String("type", s.Index.Type),
	)
	return res, nil
}

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/DeafMist/semantic-news/backend/internal/config"
	"github.com/DeafMist/semantic-news/backend/internal/elasticsearch"
	"github.com/DeafMist/semantic-news/backend/internal/embedding"
	"github.com/DeafMist/semantic-news/backend/internal/indexer"
	"github.com/DeafMist/semantic-news/backend/internal/logger"
	"github.com/DeafMist/semantic-news/backend/internal/schema"
)

func main() {
	_ = godotenv.Load()
	log := logger.New("indexer")

	cfg, err := config.LoadIndexer()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	flag.StringVar(&cfg.DBName, "db-name", cfg.DBName, "collection to (re)build")
	flag.StringVar(&cfg.ArticlesDir, "articles-dir", cfg.ArticlesDir, "directory with fetched *.jsonl article files")
	flag.BoolVar(&cfg.Recreate, "recreate", cfg.Recreate, "drop an existing collection before indexing")
	flag.Parse()

	s, err := schema.Resolve(cfg.SchemaFile, cfg.DBName, cfg.Dimension, cfg.MetricType, cfg.IndexType)
	if err != nil {
		log.Error("load schema", slog.Any("err", err))
		os.Exit(1)
	}

	embedder, err := embedding.FromConfig(cfg.Embedding)
	if err != nil {
		log.Error("init embedder", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.DBName, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := esClient.Ping(ctx); err != nil {
		log.Error("elasticsearch unreachable", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("indexing started",
		slog.String("collection", cfg.DBName),
		slog.String("articles_dir", cfg.ArticlesDir),
		slog.Bool("recreate", cfg.Recreate),
		slog.String("model", embedder.Model()),
	)

	res, err := indexer.Run(ctx, esClient, embedder, s, indexer.Options{
		ArticlesDir: cfg.ArticlesDir,
		Recreate:    cfg.Recreate,
		BulkSize:    cfg.BulkSize,
	}, log)
	if err != nil {
		log.Error("indexing failed", slog.Any("err", err))
		stop()
		os.Exit(1)
	}

	log.Info("indexing completed",
		slog.Int("articles", res.Articles),
		slog.Int("inserted", res.Inserted),
	)
}

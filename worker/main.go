package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/semantic-news/backend/internal/config"
	"github.com/DeafMist/semantic-news/backend/internal/dedupe"
	"github.com/DeafMist/semantic-news/backend/internal/elasticsearch"
	"github.com/DeafMist/semantic-news/backend/internal/embedding"
	"github.com/DeafMist/semantic-news/backend/internal/logger"
	"github.com/DeafMist/semantic-news/backend/internal/models"
	"github.com/DeafMist/semantic-news/backend/internal/processing"
	"github.com/DeafMist/semantic-news/backend/internal/schema"
)

type documentIndexer interface {
	IndexDocument(ctx context.Context, doc models.Document) error
}

type collectionBootstrapper interface {
	HasCollection(ctx context.Context) (bool, error)
	HasIndex(ctx context.Context, field string) (bool, error)
	CreateCollection(ctx context.Context, s *schema.Schema) error
	CreateIndex(ctx context.Context, s *schema.Schema, name string) error
	Collection() string
}

func main() {
	_ = godotenv.Load()
	log := logger.New("worker")

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

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

	if err := ensureSearchable(ctx, esClient, s); err != nil {
		log.Error("prepare collection", slog.Any("err", err))
		os.Exit(1)
	}

	h := &handler{
		log:      log,
		index:    esClient,
		embedder: embedder,
		schema:   s,
		cache:    dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL),
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits only
	})
	defer reader.Close()

	dlqTopic := cfg.KafkaTopic + "_dlq"
	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       dlqTopic,
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
		slog.String("collection", cfg.DBName),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := h.process(ctx, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			if !sendToDLQ(ctx, log, dlqWriter, msg, err) {
				if ctx.Err() != nil {
					return
				}
				// Not committed: the message is redelivered after a restart.
				log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// ensureSearchable creates the collection and its vector index when the
// stream indexer starts before any batch index run. A collection left without
// the vector index by an interrupted run gets the index built.
func ensureSearchable(ctx context.Context, coll collectionBootstrapper, s *schema.Schema) error {
	exists, err := coll.HasCollection(ctx)
	if err != nil {
		return err
	}
	if exists {
		indexed, err := coll.HasIndex(ctx, s.Index.Field)
		if err != nil || indexed {
			return err
		}
	} else if err := coll.CreateCollection(ctx, s); err != nil {
		return err
	}
	return coll.CreateIndex(ctx, s, coll.Collection())
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// sendToDLQ forwards msg with error context, retrying with exponential
// backoff. It reports whether the write succeeded.
func sendToDLQ(ctx context.Context, log *slog.Logger, w messageWriter, msg kafka.Message, cause error) bool {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := 0; attempt < 5; attempt++ {
		dlqErr := w.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Info("context canceled during DLQ retry")
			return false
		}
	}
	return false
}

type handler struct {
	log      *slog.Logger
	index    documentIndexer
	embedder embedding.Embedder
	schema   *schema.Schema
	cache    *dedupe.Cache
}

// process indexes one raw article. Articles whose link was indexed within
// the dedupe window are skipped.
func (h *handler) process(ctx context.Context, msg kafka.Message) error {
	var article models.Article
	if err := json.Unmarshal(msg.Value, &article); err != nil {
		return fmt.Errorf("decode article: %w", err)
	}
	if article == nil {
		return errors.New("empty payload")
	}

	if link := article.Link(); link != "" && h.cache.IsSeen(link) {
		h.log.Debug("duplicate article", slog.String("link", link))
		return nil
	}

	doc, err := processing.CreateDocument(ctx, article, h.embedder)
	if err != nil {
		return err
	}
	if err := h.schema.ValidateDocument(doc); err != nil {
		return err
	}

	if err := h.index.IndexDocument(ctx, doc); err != nil {
		return fmt.Errorf("index document: %w", err)
	}

	h.cache.MarkSeen(doc.ID)
	h.log.Info("indexed article",
		slog.String("id", doc.ID),
		slog.String("title", doc.Title),
		slog.Int("dedupe_size", h.cache.Len()),
	)
	return nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DeafMist/semantic-news/backend/internal/config"
	"github.com/DeafMist/semantic-news/backend/internal/elasticsearch"
	"github.com/DeafMist/semantic-news/backend/internal/logger"
)

type pruner interface {
	DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()
	log := logger.New("retention")

	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.DBName, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := waitForCluster(ctx, log, esClient, 10, 2*time.Second); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to connect to elasticsearch after retries", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("connected to elasticsearch")

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("retention job running",
		slog.String("collection", cfg.DBName),
		slog.Duration("interval", cfg.Interval),
		slog.Duration("max_age", cfg.MaxAge),
	)

	// Undated articles (published_date 0) are never removed.
	runOnce(ctx, log, esClient, cfg)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, esClient, cfg)
		}
	}
}

// waitForCluster pings until the cluster answers, doubling the delay between
// attempts up to 30s.
func waitForCluster(ctx context.Context, log *slog.Logger, p pinger, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = p.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		log.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", attempts),
			slog.Duration("retry_in", delay),
		)
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, 30*time.Second)
	}
	return err
}

func runOnce(ctx context.Context, log *slog.Logger, p pruner, cfg *config.Retention) int64 {
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	deleted, err := p.DeleteOlderThan(subCtx, cfg.MaxAge, cfg.BatchSize)
	if err != nil {
		log.Warn("retention run failed (will retry on next interval)", slog.Any("err", err))
		return 0
	}

	if deleted > 0 {
		log.Info("retention run completed", slog.Int64("deleted", deleted))
	} else {
		log.Debug("retention run completed, no old articles found")
	}
	return deleted
}

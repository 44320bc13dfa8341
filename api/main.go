package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DeafMist/semantic-news/backend/internal/config"
	"github.com/DeafMist/semantic-news/backend/internal/elasticsearch"
	"github.com/DeafMist/semantic-news/backend/internal/embedding"
	"github.com/DeafMist/semantic-news/backend/internal/logger"
	"github.com/DeafMist/semantic-news/backend/internal/search"
)

func main() {
	_ = godotenv.Load()
	log := logger.New("api")

	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.DBName, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	embedder, err := embedding.FromConfig(cfg.Embedding)
	if err != nil {
		log.Error("init embedder", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.CacheURL != "" {
		cache, err := embedding.NewRedisCache(ctx, cfg.CacheURL)
		if err != nil {
			log.Warn("embedding cache disabled", slog.Any("err", err))
		} else {
			defer cache.Close()
			embedder = embedding.NewCached(embedder, cache, cfg.CacheTTL, log)
			log.Info("embedding cache enabled", slog.Duration("ttl", cfg.CacheTTL))
		}
	}

	svc := search.NewService(esClient, embedder, cfg.DBName)
	srv := newServer(log, cfg, svc, esClient)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		log.Info("api server starting",
			slog.String("addr", cfg.BindAddr),
			slog.String("collection", svc.Collection()),
			slog.String("model", embedder.Model()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

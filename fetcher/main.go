package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/DeafMist/semantic-news/backend/internal/articles"
	"github.com/DeafMist/semantic-news/backend/internal/config"
	"github.com/DeafMist/semantic-news/backend/internal/feeds"
	"github.com/DeafMist/semantic-news/backend/internal/ledger"
	"github.com/DeafMist/semantic-news/backend/internal/logger"
)

func main() {
	_ = godotenv.Load()
	log := logger.New("fetcher")

	cfg, err := config.LoadFetcher()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	flag.StringVar(&cfg.FeedFilename, "feed-filename", cfg.FeedFilename, "feed resource file in "+cfg.FeedResourcesDir)
	flag.Parse()

	resourcePath, err := resolveFeedFile(cfg.FeedResourcesDir, cfg.FeedFilename)
	if err != nil {
		log.Error("feed resources", slog.Any("err", err))
		os.Exit(2)
	}

	urls, err := feeds.ReadURLs(resourcePath)
	if err != nil {
		log.Error("read feed urls", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	runID := uuid.NewString()
	log = log.With(slog.String("run_id", runID))

	writer, err := articles.NewFileWriter(cfg.ArticlesDir, cfg.FeedFilename)
	if err != nil {
		log.Error("init article writer", slog.Any("err", err))
		os.Exit(1)
	}
	runner := &feeds.Runner{
		Source: feeds.NewFetcher(cfg.Timeout, cfg.UserAgent, log),
		Sinks:  []feeds.Sink{writer},
		Dedupe: cfg.Dedupe,
		RunID:  runID,
		Log:    log,
	}

	if len(cfg.KafkaBrokers) > 0 {
		sink := feeds.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, runID)
		defer sink.Close()
		runner.Sinks = append(runner.Sinks, sink)
		log.Info("publishing to kafka", slog.String("topic", cfg.KafkaTopic))
	}

	var journal *ledger.Ledger
	if cfg.LedgerPath != "" {
		l, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			log.Error("open ledger", slog.Any("err", err))
			os.Exit(1)
		}
		defer l.Close()
		// Links are recorded last, once every other sink has accepted them.
		runner.Sinks = append(runner.Sinks, l)
		runner.Journal = l
		journal = l
	}

	log.Info("fetch run starting",
		slog.String("resources", resourcePath),
		slog.Int("feeds", len(urls)),
		slog.String("output", writer.Path()),
	)

	sum, err := runner.Run(ctx, urls)
	if err != nil {
		log.Error("fetch run failed", slog.Any("err", err))
		stop()
		os.Exit(1)
	}

	if journal != nil && sum.Failed > 0 {
		fetches, err := journal.Fetches(ctx, runID)
		if err != nil {
			log.Warn("read ledger", slog.Any("err", err))
			return
		}
		for _, f := range fetches {
			if f.Status == string(feeds.StatusFailed) {
				log.Warn("feed failed", slog.String("url", f.FeedURL), slog.String("error", f.Error))
			}
		}
	}
}

// resolveFeedFile returns the path of name inside dir. name must be one of the
// resource files present in dir.
func resolveFeedFile(dir, name string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", dir, err)
	}

	var choices []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != articles.Ext {
			continue
		}
		if e.Name() == name {
			return filepath.Join(dir, name), nil
		}
		choices = append(choices, e.Name())
	}
	sort.Strings(choices)
	return "", fmt.Errorf("unknown feed file %q (choose from: %s)", name, strings.Join(choices, ", "))
}

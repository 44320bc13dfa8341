package feeds

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DeafMist/semantic-news/backend/internal/logger"
	"github.com/DeafMist/semantic-news/backend/internal/models"
)

// Sink receives the entries fetched from one feed.
type Sink interface {
	Name() string
	Write(ctx context.Context, feedURL string, entries []models.Article) error
}

// Status is the outcome of fetching a single feed.
type Status string

const (
	StatusOK     Status = "ok"
	StatusEmpty  Status = "empty"
	StatusFailed Status = "failed"
)

// Attempt describes one feed fetch within a run.
type Attempt struct {
	RunID   string
	FeedURL string
	Status  Status
	Entries int
	Err     error
}

// Journal remembers fetch attempts and the links already delivered.
type Journal interface {
	Record(ctx context.Context, a Attempt) error
	Unseen(ctx context.Context, entries []models.Article) ([]models.Article, error)
}

// Summary counts the outcome of a run.
type Summary struct {
	RunID   string
	Feeds   int
	Failed  int
	Entries int
	Skipped int
}

// Runner fetches a list of feeds one at a time and writes every batch of
// entries to all sinks in order.
type Runner struct {
	Source Source
	Sinks  []Sink
	// Journal is optional. With Dedupe set, entries whose link it already
	// knows are dropped before reaching the sinks.
	Journal Journal
	Dedupe  bool
	RunID   string
	Log     *slog.Logger
}

// Run fetches urls from src into sinks.
func Run(ctx context.Context, src Source, urls []string, sinks ...Sink) (Summary, error) {
	r := &Runner{Source: src, Sinks: sinks}
	return r.Run(ctx, urls)
}

// Run processes urls in order. Fetch failures are counted and skipped; sink
// and journal errors abort the run.
func (r *Runner) Run(ctx context.Context, urls []string) (Summary, error) {
	log := r.Log
	if log == nil {
		log = logger.Discard()
	}
	sum := Summary{RunID: r.RunID}

	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Feeds++

		entries, fetchErr := r.Source.Fetch(ctx, url)
		if fetchErr != nil {
			sum.Failed++
			if err := r.record(ctx, Attempt{RunID: r.RunID, FeedURL: url, Status: StatusFailed, Err: fetchErr}); err != nil {
				return sum, err
			}
			continue
		}

		fetched := len(entries)
		if r.Dedupe && r.Journal != nil && fetched > 0 {
			fresh, err := r.Journal.Unseen(ctx, entries)
			if err != nil {
				return sum, fmt.Errorf("filter seen entries: %w", err)
			}
			sum.Skipped += fetched - len(fresh)
			entries = fresh
		}

		for _, sink := range r.Sinks {
			if err := sink.Write(ctx, url, entries); err != nil {
				return sum, fmt.Errorf("write %s sink: %w", sink.Name(), err)
			}
		}
		sum.Entries += len(entries)

		status := StatusOK
		if fetched == 0 {
			status = StatusEmpty
		}
		if err := r.record(ctx, Attempt{RunID: r.RunID, FeedURL: url, Status: status, Entries: len(entries)}); err != nil {
			return sum, err
		}

		log.Info("feed fetched",
			slog.String("url", url),
			slog.Int("entries", fetched),
			slog.Int("written", len(entries)),
		)
	}

	log.Info("fetch run completed",
		slog.String("run_id", sum.RunID),
		slog.Int("feeds", sum.Feeds),
		slog.Int("failed", sum.Failed),
		slog.Int("entries", sum.Entries),
		slog.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

func (r *Runner) record(ctx context.Context, a Attempt) error {
	if r.Journal == nil {
		return nil
	}
	if err := r.Journal.Record(ctx, a); err != nil {
		return fmt.Errorf("record fetch: %w", err)
	}
	return nil
}

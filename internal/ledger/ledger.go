// Package ledger keeps a SQLite record of fetch runs and of every article
// link already delivered, so repeated fetches can skip known entries.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/DeafMist/semantic-news/backend/internal/feeds"
	"github.com/DeafMist/semantic-news/backend/internal/models"
)

const lookupChunk = 500

// Ledger is a feeds.Journal and a feeds.Sink backed by SQLite.
type Ledger struct {
	db  *sqlx.DB
	now func() time.Time
}

// Fetch is one recorded feed fetch.
type Fetch struct {
	RunID     string    `db:"run_id"`
	FeedURL   string    `db:"feed_url"`
	Status    string    `db:"status"`
	Entries   int       `db:"entries"`
	Error     string    `db:"error"`
	FetchedAt time.Time `db:"fetched_at"`
}

// Open connects to the database at path and creates the tables if needed.
func Open(path string) (*Ledger, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, now: time.Now}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS fetches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			feed_url TEXT NOT NULL,
			status TEXT NOT NULL,
			entries INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			fetched_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fetches_run ON fetches(run_id)`,
		`CREATE TABLE IF NOT EXISTS links (
			link TEXT PRIMARY KEY,
			feed_url TEXT NOT NULL,
			first_seen DATETIME NOT NULL
		)`,
	}

	for _, stmt := range tables {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("init ledger schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record implements feeds.Journal.
func (l *Ledger) Record(ctx context.Context, a feeds.Attempt) error {
	msg := ""
	if a.Err != nil {
		msg = a.Err.Error()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO fetches (run_id, feed_url, status, entries, error, fetched_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.RunID, a.FeedURL, string(a.Status), a.Entries, msg, l.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert fetch: %w", err)
	}
	return nil
}

// Fetches returns the fetches recorded for runID in insertion order.
func (l *Ledger) Fetches(ctx context.Context, runID string) ([]Fetch, error) {
	var out []Fetch
	err := l.db.SelectContext(ctx, &out,
		`SELECT run_id, feed_url, status, entries, error, fetched_at FROM fetches WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("select fetches: %w", err)
	}
	return out, nil
}

// Unseen implements feeds.Journal. Entries without a link are always kept,
// and a link repeated within entries is kept once.
func (l *Ledger) Unseen(ctx context.Context, entries []models.Article) ([]models.Article, error) {
	links := make([]string, 0, len(entries))
	for _, e := range entries {
		if link := e.Link(); link != "" {
			links = append(links, link)
		}
	}

	seen, err := l.known(ctx, links)
	if err != nil {
		return nil, err
	}

	out := make([]models.Article, 0, len(entries))
	for _, e := range entries {
		if link := e.Link(); link != "" {
			if seen[link] {
				continue
			}
			seen[link] = true
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *Ledger) known(ctx context.Context, links []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(links))
	for start := 0; start < len(links); start += lookupChunk {
		end := min(start+lookupChunk, len(links))

		query, args, err := sqlx.In(`SELECT link FROM links WHERE link IN (?)`, links[start:end])
		if err != nil {
			return nil, fmt.Errorf("build link lookup: %w", err)
		}
		var found []string
		if err := l.db.SelectContext(ctx, &found, l.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("select links: %w", err)
		}
		for _, link := range found {
			seen[link] = true
		}
	}
	return seen, nil
}

// Name implements feeds.Sink.
func (l *Ledger) Name() string { return "ledger" }

// Write implements feeds.Sink by remembering the link of every entry.
func (l *Ledger) Write(ctx context.Context, feedURL string, entries []models.Article) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT OR IGNORE INTO links (link, feed_url, first_seen) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare link insert: %w", err)
	}
	defer stmt.Close()

	now := l.now().UTC()
	for _, e := range entries {
		link := e.Link()
		if link == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, link, feedURL, now); err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit links: %w", err)
	}
	return nil
}

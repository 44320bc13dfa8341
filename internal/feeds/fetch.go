package feeds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/DeafMist/semantic-news/backend/internal/logger"
	"github.com/DeafMist/semantic-news/backend/internal/models"
)

var (
	// ErrFetch marks a feed that could not be downloaded.
	ErrFetch = errors.New("fetch feed")
	// ErrParse marks a feed body that is not a valid RSS or Atom document.
	ErrParse = errors.New("parse feed")
)

const maxFeedSize = 32 << 20

// Source yields the entries of one feed.
type Source interface {
	Fetch(ctx context.Context, url string) ([]models.Article, error)
}

// Fetcher downloads feeds over HTTP and parses them with gofeed.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	log        *slog.Logger
}

// NewFetcher creates a Fetcher. A zero timeout means no timeout.
func NewFetcher(timeout time.Duration, userAgent string, log *slog.Logger) *Fetcher {
	if log == nil {
		log = logger.Discard()
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
		log:        log,
	}
}

// Fetch downloads url and returns its entries. A nil slice with a non-nil
// error means nothing could be fetched; an empty slice with a nil error means
// the feed has no entries.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]models.Article, error) {
	body, err := f.download(ctx, url)
	if err != nil {
		f.log.Error("fetch feed", slog.String("url", url), slog.Any("err", err))
		return nil, fmt.Errorf("%w %s: %w", ErrFetch, url, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		f.log.Warn("malformed feed", slog.String("url", url), slog.Any("err", err))
		return nil, fmt.Errorf("%w %s: %w", ErrParse, url, err)
	}

	out := make([]models.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		out = append(out, entry(url, item))
	}
	return out, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// entry flattens a parsed item into the key set written to article files.
// Keys with empty values are omitted.
func entry(feedURL string, item *gofeed.Item) models.Article {
	a := models.Article{"feed_url": feedURL}
	set := func(key, value string) {
		if value != "" {
			a[key] = value
		}
	}

	set("title", item.Title)
	set("link", item.Link)
	if item.Link == "" && len(item.Links) > 0 {
		set("link", item.Links[0])
	}
	set("id", item.GUID)
	set("content", item.Content)
	if item.Description != "" {
		set("summary", item.Description)
	} else {
		set("summary", item.Content)
	}

	set("published", item.Published)
	if item.PublishedParsed != nil {
		set("published_parsed", item.PublishedParsed.UTC().Format(time.RFC3339))
	}
	set("updated", item.Updated)
	if item.UpdatedParsed != nil {
		set("updated_parsed", item.UpdatedParsed.UTC().Format(time.RFC3339))
	}

	if item.Author != nil {
		set("author", item.Author.Name)
	}
	if len(item.Categories) > 0 {
		tags := make([]any, len(item.Categories))
		for i, c := range item.Categories {
			tags[i] = c
		}
		a["tags"] = tags
	}
	return a
}

package impl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bakkerme/filepoll/internal/retry"
	"github.com/bakkerme/filepoll/internal/sources/rss"
	"github.com/mmcdole/gofeed"
)

type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

func (f *Fetcher) Fetch(ctx context.Context, feedURL string, options rss.FetchOptions) ([]rss.Item, error) {
	// A parser per call keeps per-source user agents from racing.
	parser := gofeed.NewParser()
	parser.Client = f.client
	parser.UserAgent = f.userAgent
	if options.UserAgent != "" {
		parser.UserAgent = options.UserAgent
	}
	var feed *gofeed.Feed
	err := retry.Do(ctx, retry.Config{Attempts: 3, BaseDelay: 200 * time.Millisecond}, func() error {
		parsed, err := parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			var httpErr gofeed.HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
				return retry.Permanent(err)
			}
			return err
		}
		feed = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	return itemsFromFeed(feed, options), nil
}

func itemsFromFeed(feed *gofeed.Feed, options rss.FetchOptions) []rss.Item {
	if feed == nil {
		return nil
	}
	limit := options.Limit
	if limit <= 0 || limit > len(feed.Items) {
		limit = len(feed.Items)
	}
	items := make([]rss.Item, 0, limit)
	for _, entry := range feed.Items {
		if len(items) >= limit {
			break
		}
		item := rss.Item{
			ID:          options.Key.Identify(entry.GUID, entry.Link),
			Title:       entry.Title,
			Link:        entry.Link,
			Description: entry.Description,
			Content:     entry.Content,
		}
		if entry.Author != nil {
			item.Author = entry.Author.Name
		}
		switch {
		case entry.PublishedParsed != nil:
			item.PublishedAt = entry.PublishedParsed.UTC()
		case entry.UpdatedParsed != nil:
			item.PublishedAt = entry.UpdatedParsed.UTC()
		default:
			item.PublishedAt = time.Now().UTC()
		}
		items = append(items, item)
	}
	return items
}

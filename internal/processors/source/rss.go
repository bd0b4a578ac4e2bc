package source

import (
	"context"
	"fmt"
	"time"

	"github.com/bakkerme/filepoll/internal/config"
	"github.com/bakkerme/filepoll/internal/core"
	"github.com/bakkerme/filepoll/internal/dedupe"
	"github.com/bakkerme/filepoll/internal/sources/rss"
	"go.opentelemetry.io/otel/attribute"
)

// RSSProcessor polls feeds and emits each entry once, keyed by GUID or by
// link as configured.
type RSSProcessor struct {
	name    string
	config  config.RSSSource
	fetcher rss.Fetcher
	key     rss.Key
	seen    *dedupe.AcceptOnce[string]
}

func NewRSSProcessor(cfg *config.RSSSource, fetcher rss.Fetcher, defaultCapacity *int) (*RSSProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rss config is required")
	}
	capacity := cfg.Capacity
	if capacity == nil {
		capacity = defaultCapacity
	}
	seen, err := dedupe.NewWithCapacity[string](capacity)
	if err != nil {
		return nil, fmt.Errorf("rss: %w", err)
	}
	key, err := rss.ParseKey(cfg.Key)
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "rss"
	}
	return &RSSProcessor{
		name:    name,
		config:  *cfg,
		fetcher: fetcher,
		key:     key,
		seen:    seen,
	}, nil
}

func (p *RSSProcessor) Name() string {
	return p.name
}

func (p *RSSProcessor) Validate() error {
	if len(p.config.Feeds) == 0 {
		return fmt.Errorf("at least one rss feed is required")
	}
	if p.fetcher == nil {
		return fmt.Errorf("rss fetcher is required")
	}
	return nil
}

func (p *RSSProcessor) Fetch(ctx context.Context) ([]*core.ItemBlock, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "source.rss.fetch")
	defer span.End()

	options := rss.FetchOptions{
		Limit:     p.config.Limit,
		UserAgent: p.config.UserAgent,
		Key:       p.key,
	}

	items := map[string]rss.Item{}
	candidates := []string{}
	for _, feedURL := range p.config.Feeds {
		fetched, err := p.fetcher.Fetch(ctx, feedURL, options)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		for _, item := range fetched {
			if item.ID == "" {
				continue
			}
			if _, ok := items[item.ID]; !ok {
				items[item.ID] = item
			}
			candidates = append(candidates, item.ID)
		}
	}

	admitted := p.seen.Filter(candidates)
	span.SetAttributes(attribute.Int("source.candidates", len(candidates)), attribute.Int("source.admitted", len(admitted)))

	now := time.Now().UTC()
	blocks := make([]*core.ItemBlock, 0, len(admitted))
	for _, id := range admitted {
		item := items[id]
		content := item.Content
		if content == "" {
			content = item.Description
		}
		blocks = append(blocks, &core.ItemBlock{
			FlowID:       core.FlowIDFromContext(ctx),
			ID:           id,
			Source:       p.name,
			Name:         item.Title,
			URL:          item.Link,
			Title:        item.Title,
			Author:       item.Author,
			Size:         int64(len(content)),
			ModTime:      item.PublishedAt,
			Content:      content,
			DiscoveredAt: now,
		})
	}
	return blocks, nil
}

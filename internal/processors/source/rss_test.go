package source

import (
	"context"
	"errors"
	"testing"

	"github.com/bakkerme/filepoll/internal/config"
	"github.com/bakkerme/filepoll/internal/sources/rss"
	"github.com/bakkerme/filepoll/internal/sources/rss/mock"
)

func TestRSSProcessorDedupesAcrossPollsAndFeeds(t *testing.T) {
	fetcher := &mock.Fetcher{ItemsByFeed: map[string][]rss.Item{
		"https://a.example/feed": {
			{ID: "1", Title: "one", Link: "https://a.example/1", Description: "first"},
			{ID: "2", Title: "two", Link: "https://a.example/2", Content: "second"},
		},
		"https://b.example/feed": {
			{ID: "2", Title: "two again"},
			{ID: "3", Title: "three"},
		},
	}}
	p, err := NewRSSProcessor(&config.RSSSource{
		Name:  "news",
		Feeds: []string{"https://a.example/feed", "https://b.example/feed"},
	}, fetcher, nil)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	blocks, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	if blocks[0].Content != "first" || blocks[1].Content != "second" {
		t.Fatalf("expected description fallback, got %q / %q", blocks[0].Content, blocks[1].Content)
	}
	if blocks[1].Title != "two" {
		t.Fatalf("expected first occurrence of a duplicate to win, got %q", blocks[1].Title)
	}
	if blocks[0].Source != "news" || blocks[0].URL != "https://a.example/1" {
		t.Fatalf("unexpected block %+v", blocks[0])
	}

	blocks, err = p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if len(blocks) != 0 {
		t.Fatalf("expected nothing new on second poll, got %d", len(blocks))
	}
}

func TestRSSProcessorFetchError(t *testing.T) {
	fetcher := &mock.Fetcher{ErrByFeed: map[string]error{"https://a.example/feed": errors.New("boom")}}
	p, err := NewRSSProcessor(&config.RSSSource{Feeds: []string{"https://a.example/feed"}}, fetcher, nil)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRSSProcessorRequiresFeeds(t *testing.T) {
	p, err := NewRSSProcessor(&config.RSSSource{}, &mock.Fetcher{}, nil)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	if err := p.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRSSProcessorPassesKeyToFetcher(t *testing.T) {
	fetcher := &mock.Fetcher{}
	p, err := NewRSSProcessor(&config.RSSSource{Feeds: []string{"https://a.example/feed"}, Key: "link"}, fetcher, nil)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	if _, err := p.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(fetcher.Options) != 1 || fetcher.Options[0].Key != rss.KeyLink {
		t.Fatalf("expected link key in fetch options, got %+v", fetcher.Options)
	}

	if _, err := NewRSSProcessor(&config.RSSSource{Feeds: []string{"https://a.example/feed"}, Key: "title"}, fetcher, nil); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

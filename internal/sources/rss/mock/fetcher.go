package mock

import (
	"context"
	"sync"

	"github.com/bakkerme/filepoll/internal/sources/rss"
)

type Fetcher struct {
	mu          sync.Mutex
	ItemsByFeed map[string][]rss.Item
	ErrByFeed   map[string]error
	Requested   []string
	Options     []rss.FetchOptions
}

func (f *Fetcher) Fetch(ctx context.Context, feedURL string, options rss.FetchOptions) ([]rss.Item, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requested = append(f.Requested, feedURL)
	f.Options = append(f.Options, options)
	if err, ok := f.ErrByFeed[feedURL]; ok {
		return nil, err
	}
	items := f.ItemsByFeed[feedURL]
	if options.Limit > 0 && len(items) > options.Limit {
		return items[:options.Limit], nil
	}
	return items, nil
}

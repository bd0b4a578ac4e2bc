package mock

import (
	"context"
	"sync"

	"github.com/bakkerme/filepoll/internal/sources/dir"
)

// Scanner returns the configured entries for a root. Scans are counted so
// tests can assert how many poll cycles reached the source.
type Scanner struct {
	mu           sync.Mutex
	EntriesByDir map[string][]dir.Entry
	ErrByDir     map[string]error
	Calls        int
}

func (s *Scanner) Scan(ctx context.Context, root string, options dir.ScanOptions) ([]dir.Entry, error) {
	_ = ctx
	_ = options
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.ErrByDir != nil {
		if err, ok := s.ErrByDir[root]; ok {
			return nil, err
		}
	}
	entries := s.EntriesByDir[root]
	out := make([]dir.Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Set replaces the entries reported for root.
func (s *Scanner) Set(root string, entries []dir.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EntriesByDir == nil {
		s.EntriesByDir = map[string][]dir.Entry{}
	}
	s.EntriesByDir[root] = entries
}

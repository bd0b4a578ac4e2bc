package dir

import (
	"context"
	"time"
)

// ScanOptions controls which files a scan reports and what it reads.
type ScanOptions struct {
	Recursive     bool
	Pattern       string // filepath.Match against the base name; empty matches all
	IncludeHidden bool
	// HashContent computes an xxhash64 digest of each matched file.
	HashContent bool
	// ReadContent loads up to MaxContentBytes of each matched file.
	ReadContent     bool
	MaxContentBytes int64
}

// Entry is one regular file found by a scan.
type Entry struct {
	Path      string
	Name      string
	Size      int64
	ModTime   time.Time
	Hash      string
	Content   string
	Truncated bool
}

// Scanner enumerates the regular files below a directory.
// Entries are returned sorted by path.
type Scanner interface {
	Scan(ctx context.Context, root string, options ScanOptions) ([]Entry, error)
}

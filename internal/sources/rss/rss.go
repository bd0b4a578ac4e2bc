package rss

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Key selects the entry field that identifies an item across polls.
type Key string

const (
	KeyGUID Key = "guid"
	KeyLink Key = "link"
)

// ParseKey accepts "guid", "link" or empty, which means guid.
func ParseKey(raw string) (Key, error) {
	switch k := Key(strings.ToLower(strings.TrimSpace(raw))); k {
	case "", KeyGUID:
		return KeyGUID, nil
	case KeyLink:
		return KeyLink, nil
	default:
		return "", fmt.Errorf("rss key must be %q or %q, got %q", KeyGUID, KeyLink, raw)
	}
}

// Identify returns the identity of an entry under k, falling back to the
// other field when the preferred one is blank.
func (k Key) Identify(guid, link string) string {
	guid, link = strings.TrimSpace(guid), strings.TrimSpace(link)
	if k == KeyLink {
		if link != "" {
			return link
		}
		return guid
	}
	if guid != "" {
		return guid
	}
	return link
}

type FetchOptions struct {
	Limit     int
	UserAgent string
	Key       Key
}

// Item is a single RSS or Atom entry. ID is already resolved by the
// fetch's Key.
type Item struct {
	ID          string
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	PublishedAt time.Time
}

type Fetcher interface {
	Fetch(ctx context.Context, feedURL string, options FetchOptions) ([]Item, error)
}

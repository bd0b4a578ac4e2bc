package impl

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bakkerme/filepoll/internal/sources/dir"
	"github.com/cespare/xxhash/v2"
)

const defaultMaxContentBytes = 1 << 20

type Scanner struct{}

func NewScanner() *Scanner {
	return &Scanner{}
}

func (s *Scanner) Scan(ctx context.Context, root string, options dir.ScanOptions) ([]dir.Entry, error) {
	if root == "" {
		return nil, fmt.Errorf("scan root is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root %q is not a directory", root)
	}
	if options.Pattern != "" {
		if _, err := filepath.Match(options.Pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", options.Pattern, err)
		}
	}

	entries := []dir.Entry{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			// A file removed between listing and stat is not an error for a poller.
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if path == root {
			return nil
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if !options.Recursive || (hidden && !options.IncludeHidden) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if hidden && !options.IncludeHidden {
			return nil
		}
		if options.Pattern != "" {
			if ok, _ := filepath.Match(options.Pattern, d.Name()); !ok {
				return nil
			}
		}
		fi, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		entry := dir.Entry{
			Path:    path,
			Name:    d.Name(),
			Size:    fi.Size(),
			ModTime: fi.ModTime().UTC(),
		}
		if options.HashContent {
			hash, err := hashFile(path)
			if err != nil {
				return fmt.Errorf("hash %s: %w", path, err)
			}
			entry.Hash = hash
		}
		if options.ReadContent {
			content, truncated, err := readFile(path, options.MaxContentBytes)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			entry.Content = content
			entry.Truncated = truncated
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}

func readFile(path string, limit int64) (string, bool, error) {
	if limit <= 0 {
		limit = defaultMaxContentBytes
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return "", false, err
	}
	if int64(len(data)) > limit {
		return string(data[:limit]), true, nil
	}
	return string(data), false, nil
}

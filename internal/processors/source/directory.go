package source

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bakkerme/filepoll/internal/config"
	"github.com/bakkerme/filepoll/internal/core"
	"github.com/bakkerme/filepoll/internal/dedupe"
	"github.com/bakkerme/filepoll/internal/sources/dir"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/bakkerme/filepoll/internal/processors/source")

var _ core.Committer = (*DirectoryProcessor)(nil)

// DirectoryProcessor scans a directory on every poll and emits each file the
// first time it is seen. Identity is the file path, or path plus content hash
// when the source is keyed by content.
type DirectoryProcessor struct {
	name    string
	config  config.DirectorySource
	scanner dir.Scanner
	seen    *dedupe.AcceptOnce[string]
	store   dedupe.SeenStore
	logger  *slog.Logger

	mu      sync.Mutex
	pending []string
}

// NewDirectoryProcessor builds the source and its accept-once filter. The
// source's own capacity wins over defaultCapacity; both nil means unbounded.
// store is optional.
func NewDirectoryProcessor(cfg *config.DirectorySource, scanner dir.Scanner, defaultCapacity *int, store dedupe.SeenStore, logger *slog.Logger) (*DirectoryProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("directory config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	capacity := cfg.Capacity
	if capacity == nil {
		capacity = defaultCapacity
	}
	seen, err := dedupe.NewWithCapacity[string](capacity)
	if err != nil {
		return nil, fmt.Errorf("directory %s: %w", cfg.Path, err)
	}
	name := cfg.Name
	if name == "" {
		name = "directory"
	}
	p := &DirectoryProcessor{
		name:    name,
		config:  *cfg,
		scanner: scanner,
		seen:    seen,
		store:   store,
		logger:  logger,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *DirectoryProcessor) Name() string {
	return p.name
}

func (p *DirectoryProcessor) Validate() error {
	if p.config.Path == "" {
		return fmt.Errorf("directory path is required")
	}
	if p.scanner == nil {
		return fmt.Errorf("directory scanner is required")
	}
	return nil
}

// Seen exposes the accept-once filter, mainly for inspection in tests.
func (p *DirectoryProcessor) Seen() *dedupe.AcceptOnce[string] {
	return p.seen
}

func (p *DirectoryProcessor) Fetch(ctx context.Context) ([]*core.ItemBlock, error) {
	ctx, span := tracer.Start(ctx, "source.directory.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("source.name", p.name), attribute.String("source.path", p.config.Path))

	entries, err := p.scanner.Scan(ctx, p.config.Path, dir.ScanOptions{
		Recursive:       p.config.Recursive,
		Pattern:         p.config.Pattern,
		IncludeHidden:   p.config.IncludeHidden,
		HashContent:     p.config.Key == config.KeyContent,
		ReadContent:     p.config.ReadContent,
		MaxContentBytes: p.config.MaxContentBytes,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scan %s: %w", p.config.Path, err)
	}

	byID := make(map[string]dir.Entry, len(entries))
	candidates := make([]string, 0, len(entries))
	for _, entry := range entries {
		id := p.identify(entry)
		byID[id] = entry
		candidates = append(candidates, id)
	}

	// The store is consulted before the in-memory filter so a failed lookup
	// leaves the seen set untouched and the next poll retries every file.
	unseen, err := dedupe.Unseen(ctx, p.store, candidates)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("check seen store: %w", err)
	}
	admitted := p.seen.Filter(unseen)
	p.setPending(admitted)
	span.SetAttributes(attribute.Int("source.candidates", len(candidates)), attribute.Int("source.admitted", len(admitted)))

	now := time.Now().UTC()
	blocks := make([]*core.ItemBlock, 0, len(admitted))
	var total int64
	for _, id := range admitted {
		entry := byID[id]
		total += entry.Size
		block := &core.ItemBlock{
			FlowID:       core.FlowIDFromContext(ctx),
			ID:           id,
			Source:       p.name,
			Path:         entry.Path,
			Name:         entry.Name,
			Ext:          strings.ToLower(filepath.Ext(entry.Name)),
			Title:        entry.Name,
			Size:         entry.Size,
			ModTime:      entry.ModTime,
			Hash:         entry.Hash,
			Content:      entry.Content,
			DiscoveredAt: now,
		}
		if entry.Truncated {
			block.AddError(p.name, "source", fmt.Errorf("content truncated to %d bytes", len(entry.Content)))
		}
		blocks = append(blocks, block)
	}

	core.LoggerFromContext(ctx).Debug("directory polled",
		"source", p.name,
		"path", p.config.Path,
		"candidates", len(candidates),
		"admitted", len(blocks),
		"admitted_bytes", humanize.Bytes(uint64(total)),
		"seen", p.seen.Len(),
	)
	return blocks, nil
}

func (p *DirectoryProcessor) identify(entry dir.Entry) string {
	if p.config.Key == config.KeyContent {
		return entry.Path + "#" + entry.Hash
	}
	return entry.Path
}

func (p *DirectoryProcessor) setPending(ids []string) {
	p.mu.Lock()
	p.pending = ids
	p.mu.Unlock()
}

func (p *DirectoryProcessor) takePending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.pending
	p.pending = nil
	return ids
}

// Commit records the identifiers admitted by the last Fetch in the durable
// store, then prunes entries past the store's ttl.
func (p *DirectoryProcessor) Commit(ctx context.Context) error {
	ids := p.takePending()
	if p.store == nil || len(ids) == 0 {
		return nil
	}
	if err := p.store.MarkSeenBatch(ctx, ids); err != nil {
		return fmt.Errorf("mark seen store: %w", err)
	}
	if pruner, ok := p.store.(dedupe.Pruner); ok {
		pruned, err := pruner.Prune(ctx)
		if err != nil {
			return fmt.Errorf("prune seen store: %w", err)
		}
		if pruned > 0 {
			p.logger.Debug("pruned expired seen ids", "source", p.name, "pruned", pruned)
		}
	}
	return nil
}

// Abort forgets the identifiers admitted by the last Fetch without recording
// them durably, so a restart polls them again.
func (p *DirectoryProcessor) Abort() {
	p.takePending()
}

// Close releases the durable seen store, if any.
func (p *DirectoryProcessor) Close() error {
	if p.store == nil {
		return nil
	}
	return p.store.Close()
}

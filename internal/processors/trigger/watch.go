package trigger

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bakkerme/filepoll/internal/core"
	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 250 * time.Millisecond

// WatchProcessor fires when files under a directory are created, written or
// renamed. Bursts of filesystem events within the debounce window collapse
// into one trigger event. With recursive set every subdirectory is watched
// too, including ones created after Start.
type WatchProcessor struct {
	name     string
	path      string
	recursive bool
	debounce  time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	events   chan core.TriggerEvent
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewWatchProcessor(path string, recursive bool, debounce time.Duration, logger *slog.Logger) *WatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	return &WatchProcessor{
		name:      "watch",
		path:      path,
		recursive: recursive,
		debounce:  debounce,
		logger:    logger,
	}
}

func (w *WatchProcessor) Name() string {
	return w.name
}

func (w *WatchProcessor) Validate() error {
	if w.path == "" {
		return fmt.Errorf("watch path is required")
	}
	return nil
}

func (w *WatchProcessor) Start(ctx context.Context, flowID string) (<-chan core.TriggerEvent, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fmt.Errorf("stat watch path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch path %q is not a directory", w.path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = watcher
	if err := w.addTree(w.path); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	w.events = make(chan core.TriggerEvent, 1)
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(ctx, flowID)
	return w.events, nil
}

func (w *WatchProcessor) Stop() error {
	w.stopOnce.Do(func() {
		if w.stop == nil {
			return
		}
		close(w.stop)
		<-w.done
	})
	return nil
}

func (w *WatchProcessor) loop(ctx context.Context, flowID string) {
	defer close(w.done)
	defer close(w.events)
	defer w.watcher.Close()

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if w.recursive && ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Warn("watch subdirectory failed", "path", ev.Name, "error", err)
					}
				}
			}
			if debounce == nil {
				debounce = time.NewTimer(w.debounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(w.debounce)
			}
			fire = debounce.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "path", w.path, "error", err)
		case at := <-fire:
			fire = nil
			select {
			case w.events <- core.TriggerEvent{FlowID: flowID, Trigger: w.name, Timestamp: at.UTC(), Metadata: map[string]interface{}{"path": w.path}}:
			default:
			}
		}
	}
}

// addTree watches root and, when recursive, every directory below it.
func (w *WatchProcessor) addTree(root string) error {
	if !w.recursive {
		if err := w.watcher.Add(root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

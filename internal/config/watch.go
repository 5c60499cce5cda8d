package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the global config whenever its source file changes
// on disk. Grounded on the teacher's pkg/policy/manager.FileWatcher,
// trimmed to a single watched file (the gateway has exactly one config
// file, not a directory tree of policy documents) and its debounce
// collapsed to a plain timer reset rather than a separate Debouncer
// type.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *slog.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
}

// DefaultDebounce matches the teacher's FileWatcherConfig default.
const DefaultDebounce = 100 * time.Millisecond

// NewWatcher builds a Watcher for path. Call Watch to start it.
func NewWatcher(path string, log *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{path: path, debounce: DefaultDebounce, log: log, watcher: w}, nil
}

// Watch blocks until ctx is cancelled, calling ReloadConfig(path) on
// every write event (debounced) and logging-but-discarding any reload
// that fails validation, so the running config stays on its last-good
// value rather than being replaced by a broken one.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("config: watcher already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		w.watcher.Close()
	}()

	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("config: failed to watch %q: %w", w.path, err)
	}
	w.log.Info("config watcher started", "path", w.path)

	var timer *time.Timer
	reload := func() {
		if err := ReloadConfig(w.path); err != nil {
			w.log.Error("config reload failed, keeping last-good config", "path", w.path, "error", err)
			return
		}
		w.log.Info("config reloaded", "path", w.path)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("config: watcher events channel closed")
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("config: watcher errors channel closed")
			}
			w.log.Error("config watcher error", "error", err)
		}
	}
}

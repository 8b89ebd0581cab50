// Package watcher reloads index snapshots when the data directory
// changes, so a running server picks up a fresh bulk load without a
// restart. Events are debounced because a load rewrites several
// snapshot files in quick succession.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last relevant event
// before a reload fires.
const DefaultDebounce = 500 * time.Millisecond

// Config configures the snapshot watcher.
type Config struct {
	// Debounce is the quiet period before reloading (default: 500ms).
	Debounce time.Duration
}

// SnapshotWatcher watches snapshot files in a directory and invokes a
// reload callback after writes settle.
type SnapshotWatcher struct {
	dir      string
	files    map[string]struct{}
	reload   func(ctx context.Context) error
	debounce time.Duration
	logger   *slog.Logger
}

// Option configures the watcher.
type Option func(*SnapshotWatcher)

// WithLogger sets the watcher logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *SnapshotWatcher) { w.logger = l }
}

// New creates a watcher over the named files inside dir. The reload
// callback runs on the watcher goroutine; reload errors are logged and
// watching continues.
func New(dir string, files []string, reload func(ctx context.Context) error, config Config, opts ...Option) *SnapshotWatcher {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}

	set := make(map[string]struct{}, len(files))
	for _, f := range files {
		set[f] = struct{}{}
	}

	w := &SnapshotWatcher{
		dir:      dir,
		files:    set,
		reload:   reload,
		debounce: config.Debounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until the context is cancelled.
func (w *SnapshotWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching snapshots", "dir", w.dir, "files", len(w.files))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fs watcher error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.Info("snapshots changed, reloading")
			if err := w.reload(ctx); err != nil {
				w.logger.Error("snapshot reload failed, serving previous index", "error", err)
			}
		}
	}
}

// relevant reports whether the event touches a watched snapshot file
// with an operation that changes its content.
func (w *SnapshotWatcher) relevant(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
		return false
	}
	_, ok := w.files[filepath.Base(ev.Name)]
	return ok
}

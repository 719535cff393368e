package workerqueue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Resolver's overrides from a JSON file whenever the file
// is written, created or replaced.
type Watcher struct {
	resolver *Resolver
	path     string
	logger   *slog.Logger
	onReload func(error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithReloadHook is called after every reload attempt with its error.
func WithReloadHook(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher creates a Watcher for the overrides file at path.
func NewWatcher(r *Resolver, path string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		resolver: r,
		path:     filepath.Clean(path),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Load reads the file once and applies it.
func (w *Watcher) Load() error {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("workerqueue: read %s: %w", w.path, err)
	}
	return w.resolver.Reload(raw)
}

// Run loads the file, then watches its directory until ctx is done. The
// directory is watched rather than the file so that editors replacing the
// file by rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("workerqueue: create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("workerqueue: watch %s: %w", filepath.Dir(w.path), err)
	}

	w.reload()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug("worker queue overrides changed",
					slog.String("path", w.path),
					slog.String("op", event.Op.String()),
				)
				w.reload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("worker queue overrides watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	err := w.Load()
	if err != nil {
		w.logger.Error("failed to reload worker queue overrides, keeping previous",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
	} else {
		w.logger.Info("worker queue overrides reloaded", slog.String("path", w.path))
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}

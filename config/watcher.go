package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ApplyFunc receives each successfully reloaded config. Returning an error
// logs the failure but keeps the watcher running.
type ApplyFunc func(*Config) error

// Watcher reloads a config file on change and hands the result to an apply
// callback. Only the named file triggers a reload; edits to siblings in the
// same directory are ignored.
type Watcher struct {
	path     string
	apply    ApplyFunc
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	// Debouncing: editors fire several events per save.
	pendingMu sync.Mutex
	pending   bool
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(path string, apply ApplyFunc, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		path:     path,
		apply:    apply,
		debounce: 250 * time.Millisecond,
		watcher:  fsw,
		logger:   logger,
	}, nil
}

// Start begins watching. The parent directory is watched rather than the
// file itself so atomic rename-based saves are picked up.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Config watcher started", slog.String("path", w.path))
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// processEvents handles fsnotify events with debouncing
func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// handleFSEvent marks a reload pending when the config file itself changes
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.pendingMu.Lock()
	w.pending = true
	w.pendingMu.Unlock()

	w.logger.Debug("Config change detected", slog.String("op", event.Op.String()))
}

// flushPending reloads and applies once per debounce window
func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	dirty := w.pending
	w.pending = false
	w.pendingMu.Unlock()

	if !dirty {
		return
	}

	config, err := LoadFromFile(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	if err := config.Validate(); err != nil {
		w.logger.Warn("Reloaded config invalid, keeping previous", slog.String("error", err.Error()))
		return
	}

	if err := w.apply(config); err != nil {
		w.logger.Warn("Config apply failed", slog.String("error", err.Error()))
		return
	}

	w.logger.Info("Config reloaded", slog.String("path", w.path))
}

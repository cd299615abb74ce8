// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package taxonomy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadHandler receives the outcome of a reload: a freshly parsed taxonomy,
// or the error that prevented it. It is called from a single goroutine.
type ReloadHandler func(tax *Taxonomy, err error)

// WatcherOptions configures the Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait for more changes before reloading.
	// Default: 250ms
	DebounceWindow time.Duration

	// Logger receives watcher errors. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{DebounceWindow: 250 * time.Millisecond}
}

// Watcher reloads a taxonomy file when it changes on disk.
//
// # Description
//
// The parent directory is watched rather than the file itself, so editors
// that save by writing a temporary file and renaming it over the original
// are handled. Events for other files in the directory are ignored. Bursts
// of events are collapsed by a debounce window; when it expires the file is
// parsed once and the result handed to the ReloadHandler.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single goroutine.
type Watcher struct {
	path            string
	defaultLanguage string
	handler         ReloadHandler
	debounce        time.Duration
	logger          *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a watcher for the taxonomy at path.
//
// # Inputs
//
//   - path: Taxonomy file to watch.
//   - defaultLanguage: Passed to LoadFile on every reload.
//   - handler: Called with each reload outcome.
//   - opts: Optional configuration (nil uses defaults).
//
// # Outputs
//
//   - *Watcher: Ready-to-use watcher (call Start to begin watching).
//   - error: Non-nil if the fsnotify watcher could not be created.
//
// # Example
//
//	w, err := taxonomy.NewWatcher(path, "fr", func(tax *taxonomy.Taxonomy, err error) {
//	    if err == nil {
//	        engine.Reload(ctx, tax)
//	    }
//	}, nil)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
func NewWatcher(path, defaultLanguage string, handler ReloadHandler, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	debounce := opts.DebounceWindow
	if debounce <= 0 {
		debounce = DefaultWatcherOptions().DebounceWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve taxonomy path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create taxonomy watcher: %w", err)
	}

	return &Watcher{
		path:            abs,
		defaultLanguage: defaultLanguage,
		handler:         handler,
		debounce:        debounce,
		logger:          logger,
		watcher:         fw,
		done:            make(chan struct{}),
	}, nil
}

// Start begins watching. It returns an error if the parent directory cannot
// be watched. Calling Start twice is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return nil
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watching = true

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("Watching taxonomy for changes", "path", w.path)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching returns true if the watcher is currently active.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching
}

// loop merges event processing and debouncing in one goroutine.
func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Taxonomy watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	tax, err := LoadFile(w.path, w.defaultLanguage)
	if err != nil {
		w.logger.Error("Taxonomy reload failed, keeping the current catalog", "path", w.path, "error", err)
	} else {
		w.logger.Info("Taxonomy reloaded", "path", w.path, "intents", len(tax.Intents), "patterns", tax.PatternCount())
	}
	if w.handler != nil {
		w.handler(tax, err)
	}
}

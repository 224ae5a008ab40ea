package health

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a rule file when it changes on disk. An invalid file is
// logged and the previous rule set stays active.
type Watcher struct {
	path     string
	scorer   *Scorer
	onReload func(context.Context)

	// done is closed when the watch loop exits; nil until Start succeeds.
	done chan struct{}
}

// NewWatcher creates a watcher for path. onReload may be nil.
func NewWatcher(path string, scorer *Scorer, onReload func(context.Context)) *Watcher {
	return &Watcher{path: path, scorer: scorer, onReload: onReload}
}

// Start watches the rule file's directory until ctx is cancelled.
// The directory is watched because editors usually replace files by rename.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rule watcher: %w", err)
	}

	target := filepath.Clean(w.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", target, err)
	}

	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					w.Reload(ctx)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("rule watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Done is closed once the watch loop has stopped. It returns nil when the
// watcher was never started.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Reload reads the rule file and swaps it in when it compiles.
func (w *Watcher) Reload(ctx context.Context) bool {
	rs, err := LoadFile(w.path)
	if err != nil {
		slog.Error("rule reload failed, keeping previous rules", "path", w.path, "error", err)
		return false
	}

	w.scorer.SetRules(rs)
	slog.Info("health rules reloaded", "path", w.path, "tables", len(rs.Tables()))

	if w.onReload != nil {
		w.onReload(ctx)
	}
	return true
}

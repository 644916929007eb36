// Package configwatch watches a project's configuration surface - its
// coday.yaml and any agent-definition folders - and invokes a reload
// callback on change, so agent edits take effect without a process
// restart. Callers typically wire the callback to AgentRegistry.SetProject
// for the active project.
package configwatch

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codayhq/coday/telemetry"
)

// DefaultDebounce collapses bursts of filesystem events (editors write,
// rename, and chmod in quick succession) into a single reload.
const DefaultDebounce = 250 * time.Millisecond

// Watcher invokes onChange after any create/write/remove/rename under its
// watched paths, debounced. Safe for a single Start/Close cycle.
type Watcher struct {
	watcher  *fsnotify.Watcher
	onChange func()
	logger   telemetry.Logger
	debounce time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configures a Watcher.
type Options struct {
	Logger telemetry.Logger
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration
}

// New constructs a Watcher over paths (files or directories; missing paths
// are skipped with a debug log). onChange runs on the watcher's own
// goroutine and must not block indefinitely.
func New(paths []string, onChange func(), opts Options) (*Watcher, error) {
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fsw,
		onChange: onChange,
		logger:   opts.Logger,
		debounce: opts.Debounce,
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			w.logger.Debug(context.Background(), "configwatch: skipping missing path", "path", p)
			continue
		}
		if err := fsw.Add(p); err != nil {
			w.logger.Warn(context.Background(), "configwatch: watch failed", "path", p, "error", err)
		}
	}
	return w, nil
}

// Start launches the watch loop. It returns immediately; Close stops the
// loop and releases the underlying watcher.
func (w *Watcher) Start(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(watchCtx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var pending *time.Timer
	var pendingC <-chan time.Time
	scheduleReload := func() {
		if pending != nil {
			pending.Stop()
		}
		pending = time.NewTimer(w.debounce)
		pendingC = pending.C
	}

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return
		case <-pendingC:
			pendingC = nil
			w.onChange()
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// A directory created under a watched path holds definitions
			// the registry should also see change events for.
			if evt.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(evt.Name); err != nil {
						w.logger.Debug(ctx, "configwatch: watch new dir failed", "path", evt.Name, "error", err)
					}
				}
			}
			scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "configwatch: watch error", "error", err)
		}
	}
}

// Close stops the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

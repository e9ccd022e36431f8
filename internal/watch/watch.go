// Package watch reloads a rule file into a rules.Store when it changes on disk.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/redactyl/emcheck/internal/rules"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads one rule file. A reload that fails leaves the current
// snapshot published.
type Watcher struct {
	path     string
	store    *rules.Store
	log      *zap.Logger
	debounce time.Duration
	fs       *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	// OnReload, when set, receives the result of every reload attempt.
	OnReload func(*rules.Snapshot, error)
}

// New watches the directory holding path so that atomic replaces by editors
// and deploy tools are seen as well as in-place writes.
func New(path string, store *rules.Store, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{path: abs, store: store, log: log, debounce: DefaultDebounce, fs: fw}, nil
}

// SetDebounce overrides the debounce delay. It must be called before Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Run processes events until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(ctx)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("rules watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	snap, err := w.store.Load(ctx, rules.FileSource{Path: w.path})
	if err != nil {
		w.log.Warn("rules reload failed, keeping current snapshot", zap.String("path", w.path), zap.Error(err))
	} else {
		w.log.Info("rules reloaded", zap.String("path", w.path), zap.Uint64("version", snap.Version))
	}
	if w.OnReload != nil {
		w.OnReload(snap, err)
	}
}

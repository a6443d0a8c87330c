package config

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher flags the loaded configuration as stale when the file changes on
// disk. The running daemon never applies changes live; status() surfaces
// the flag so operators know a restart is pending.
type Watcher struct {
	path  string
	stale atomic.Bool
	fw    *fsnotify.Watcher
}

// Watch starts watching path until ctx is cancelled.
func Watch(ctx context.Context, path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files rather than write in place.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &Watcher{path: path, fw: fw}
	go w.run(ctx)
	return w, nil
}

// Stale reports whether the file changed since load.
func (w *Watcher) Stale() bool { return w.stale.Load() }

func (w *Watcher) run(ctx context.Context) {
	defer func() { _ = w.fw.Close() }()
	base := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.stale.Store(true)
			}
		case _, ok := <-w.fw.Errors:
			if !ok {
				return
			}
		}
	}
}

package worktree

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher detects worktree directories removed out from under the pool
// (a user running `rm -rf` or `git worktree remove` by hand) between
// startup SweepOrphans passes, so a long-running session notices the
// loss immediately instead of only at its next restart. Grounded on the
// teacher's NotificationManager: same fsnotify.NewWatcher/Add/Events
// shape, generalized from a signals-directory kill/pause watch to the
// worktree pool's root directory.
type Watcher struct {
	fsw  *fsnotify.Watcher
	root string

	mu      sync.Mutex
	removed []string
	done    chan struct{}
}

// NewWatcher starts watching pool's root directory for removed entries.
// A nil Watcher (with a nil error) is never returned; if the underlying
// fsnotify watcher can't be created, the error is returned so the caller
// can fall back to relying on SweepOrphans alone.
func NewWatcher(pool *Pool) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(pool.Root()); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, root: pool.Root(), done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Remove == 0 && event.Op&fsnotify.Rename == 0 {
				continue
			}
			w.mu.Lock()
			w.removed = append(w.removed, filepath.Base(event.Name))
			w.mu.Unlock()
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Drain returns and clears the worker ids whose worktree directories
// have been removed since the last Drain call.
func (w *Watcher) Drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	removed := w.removed
	w.removed = nil
	return removed
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

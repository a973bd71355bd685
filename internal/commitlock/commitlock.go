// Package commitlock implements the process-external mutex described in
// spec.md §4.4, guarding any region that invokes `git commit` from
// worker or merge-engine code paths. Repository-level git commands
// serialize globally anyway; this lock prevents interleaved
// staging/commit across concurrent workers when a non-parallel safety
// path is used.
package commitlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrTimeout is returned when the lock could not be acquired within
// MaxAttempts tries.
var ErrTimeout = errors.New("commitlock: timed out acquiring lock")

// Lock is a cross-process mutex backed by an atomic directory creation
// at <repoRoot>/.git/commit.lock.
type Lock struct {
	path        string
	retryDelay  time.Duration
	maxAttempts int
}

// New builds a Lock rooted at repoRoot's .git directory, using the given
// retry delay and attempt ceiling (spec.md defaults: 500ms, 60 attempts,
// a 30s ceiling).
func New(repoRoot string, retryDelay time.Duration, maxAttempts int) *Lock {
	return &Lock{
		path:        filepath.Join(repoRoot, ".git", "commit.lock"),
		retryDelay:  retryDelay,
		maxAttempts: maxAttempts,
	}
}

// Release drops the lock. Call Acquire's returned Release func instead
// of calling this directly in normal use.
type Release func()

// Acquire blocks until the lock directory can be created or maxAttempts
// is exhausted, in which case it returns ErrTimeout. The returned
// Release func rmdirs the lock directory; errors on release are
// swallowed, matching the reference behavior (a stuck lock is a startup
// diagnostic, not a runtime panic).
func (l *Lock) Acquire() (Release, error) {
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		err := os.Mkdir(l.path, 0o755)
		if err == nil {
			return func() { _ = os.Remove(l.path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("commitlock: mkdir %s: %w", l.path, err)
		}
		time.Sleep(l.retryDelay)
	}
	return nil, ErrTimeout
}

// Package worktree maintains the per-worker git worktree pool described
// in spec.md §4.3: a deterministic worker-id -> Worktree mapping rooted
// at <cwd>/.ralph-tui/worktrees/, each bound to a branch that is a pure
// function of the task id.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ralph-tui/ralph-tui/internal/gitutil"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

const rootDirName = ".ralph-tui/worktrees"

// Pool acquires and releases worktrees. acquire is single-producer-safe
// per workerID; two acquisitions for different workers never collide on
// path or branch, since both are deterministic functions of their inputs.
type Pool struct {
	repoRoot string
	git      gitutil.Git

	mu     sync.Mutex
	active map[string]*models.Worktree // workerID -> worktree
}

// New builds a Pool rooted at repoRoot, using git to perform worktree
// operations.
func New(repoRoot string, git gitutil.Git) *Pool {
	return &Pool{
		repoRoot: repoRoot,
		git:      git,
		active:   make(map[string]*models.Worktree),
	}
}

// Root returns the pool's worktree root directory.
func (p *Pool) Root() string {
	return filepath.Join(p.repoRoot, rootDirName)
}

// BranchFor returns the deterministic branch name for a task.
func BranchFor(taskID string) string {
	return "ralph-parallel/" + taskID
}

// pathFor returns the deterministic worktree path for a worker.
func (p *Pool) pathFor(workerID string) string {
	return filepath.Join(p.Root(), workerID)
}

// Acquire allocates (or returns the existing) worktree for workerID,
// creating branch ralph-parallel/<taskID> off baseBranch.
func (p *Pool) Acquire(ctx context.Context, workerID, taskID, baseBranch string) (*models.Worktree, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.active[workerID]; ok {
		return existing, nil
	}

	path := p.pathFor(workerID)
	branch := BranchFor(taskID)

	if err := os.MkdirAll(p.Root(), 0o755); err != nil {
		return nil, fmt.Errorf("creating worktree root: %w", err)
	}
	if err := p.git.WorktreeAdd(ctx, path, branch, baseBranch); err != nil {
		return nil, fmt.Errorf("git worktree add: %w", err)
	}

	wt := &models.Worktree{
		ID:     workerID,
		Path:   path,
		Branch: branch,
		TaskID: taskID,
	}
	p.active[workerID] = wt
	return wt, nil
}

// Release removes the worktree for workerID. If preserveOnError is set
// and removal fails, the failure is returned to the caller to log but
// the directory is left in place for later diagnosis rather than
// retried indefinitely.
func (p *Pool) Release(ctx context.Context, workerID string, preserveOnError bool) error {
	p.mu.Lock()
	wt, ok := p.active[workerID]
	if ok {
		delete(p.active, workerID)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	if err := p.git.WorktreeRemove(ctx, wt.Path, true); err != nil {
		if preserveOnError {
			return fmt.Errorf("worktree remove failed, preserving %s: %w", wt.Path, err)
		}
		return err
	}
	return nil
}

// CleanupAll releases every currently tracked worktree. It is idempotent:
// calling it twice in a row is a no-op the second time.
func (p *Pool) CleanupAll(ctx context.Context) []error {
	p.mu.Lock()
	workerIDs := make([]string, 0, len(p.active))
	for id := range p.active {
		workerIDs = append(workerIDs, id)
	}
	p.mu.Unlock()

	var errs []error
	for _, id := range workerIDs {
		if err := p.Release(ctx, id, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Orphan describes a worktree directory found on disk at startup that
// does not correspond to any currently live worker. It is reported, not
// auto-deleted, since a resumed session may still need it.
type Orphan struct {
	Path string
}

// SweepOrphans lists directories directly under the pool root that are
// not among knownLiveWorkerIDs. Callers invoke this once at startup,
// before any Acquire calls populate p.active.
func (p *Pool) SweepOrphans(knownLiveWorkerIDs map[string]bool) ([]Orphan, error) {
	entries, err := os.ReadDir(p.Root())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var orphans []Orphan
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if knownLiveWorkerIDs[e.Name()] {
			continue
		}
		orphans = append(orphans, Orphan{Path: filepath.Join(p.Root(), e.Name())})
	}
	return orphans, nil
}

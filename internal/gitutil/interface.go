// Package gitutil wraps the git CLI behind a small, composable interface
// (spec.md §4.2). Every ref-shaped argument is validated by
// internal/gitref before it reaches a subprocess; a violation returns
// ErrInvalidRef and git is never invoked.
package gitutil

import "context"

// MergeOpts tunes a single merge call.
type MergeOpts struct {
	NoCommit bool
}

// WorktreeOperations manages worktree-per-worker isolation.
type WorktreeOperations interface {
	WorktreeAdd(ctx context.Context, path, branch, from string) error
	WorktreeRemove(ctx context.Context, path string, force bool) error
}

// BranchOperations manages refs and checkouts.
type BranchOperations interface {
	Checkout(ctx context.Context, branch string, create bool) error
	CurrentBranch(ctx context.Context) (string, error)
	Tag(ctx context.Context, name, ref string) error
	DeleteTag(ctx context.Context, name string) error
	RevParse(ctx context.Context, ref string) (string, error)
}

// DiffOperations inspects working-tree and index state.
type DiffOperations interface {
	Status(ctx context.Context) (string, error)
	HasUncommittedChanges(ctx context.Context) (bool, error)
	ConflictedFiles(ctx context.Context) ([]string, error)
	Show(ctx context.Context, ref string) (string, error)
	// ShowIndexStage reads a path's content at a merge index stage (1=base,
	// 2=ours, 3=theirs). This is a pathspec, not a ref, so it is not run
	// through ref validation.
	ShowIndexStage(ctx context.Context, stage int, path string) (string, error)
}

// CommitOperations stages and commits.
type CommitOperations interface {
	AddAll(ctx context.Context) error
	Commit(ctx context.Context, message string) error
}

// MergeOperations drives three-way merges and their rollback.
type MergeOperations interface {
	Merge(ctx context.Context, branch string, opts MergeOpts) error
	MergeAbort(ctx context.Context) error
	ResetHard(ctx context.Context, ref string) error
}

// RemoteOperations talks to a configured remote, when one exists.
type RemoteOperations interface {
	PullRebase(ctx context.Context) error
}

// Git composes every capability the rest of the core needs from the git
// CLI. Nothing outside this package shells out to git directly.
type Git interface {
	WorktreeOperations
	BranchOperations
	DiffOperations
	CommitOperations
	MergeOperations
	RemoteOperations
}

package session

import (
	"fmt"

	"github.com/ralph-tui/ralph-tui/internal/worktree"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// RecoveryResult is the outcome of checking for a resumable session at
// startup.
type RecoveryResult struct {
	Resumable         bool
	State             *models.SessionState
	OrphanedWorktrees []worktree.Orphan
}

// CheckForResumableSession loads a persisted session and cross-references
// it against the worktree pool's startup sweep: worktrees belonging to
// workers not reachable from the last-known live set are reported as
// orphans rather than silently deleted, since a resumed run may still
// need them.
func (s *Store) CheckForResumableSession(pool *worktree.Pool, liveWorkerIDs map[string]bool) (*RecoveryResult, error) {
	state, err := s.Load()
	if err == ErrNotFound {
		return &RecoveryResult{Resumable: false}, nil
	}
	if err != nil {
		return nil, err
	}

	orphans, err := pool.SweepOrphans(liveWorkerIDs)
	if err != nil {
		return nil, fmt.Errorf("sweeping orphaned worktrees: %w", err)
	}

	return &RecoveryResult{
		Resumable:         true,
		State:             state,
		OrphanedWorktrees: orphans,
	}, nil
}

// FormatResumeSuggestion renders a short human-readable summary of a
// resumable session, suitable for printing to the demo CLI before
// deciding whether to resume or start fresh.
func FormatResumeSuggestion(state *models.SessionState) string {
	remaining := len(state.TaskGraph.Nodes) - len(state.MergedTaskIDs) - len(state.FailedTaskIDs)
	return fmt.Sprintf(
		"resumable session %s: group %d of %d complete, %d task(s) merged, %d failed, %d remaining",
		state.SessionID,
		state.LastCompletedGroupIndex+1,
		len(state.TaskGraph.Groups),
		len(state.MergedTaskIDs),
		len(state.FailedTaskIDs),
		remaining,
	)
}

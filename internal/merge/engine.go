// Package merge owns the serialized merge queue and AI-assisted conflict
// resolver of spec.md §4.7/§4.8: a FIFO of MergeOperations draining into
// a single session branch, with a checkpoint-tag-based rollback on
// failure.
package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ralph-tui/ralph-tui/internal/gitutil"
	"github.com/ralph-tui/ralph-tui/pkg/core"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// Resolver is the injected AI-assisted conflict resolution capability
// (spec.md §4.8). The core only guarantees what file content to write;
// the caller decides how to generate it.
type Resolver func(ctx context.Context, conflicts []models.FileConflict) ([]models.ConflictResolutionResult, error)

// Engine owns the session branch and the single in-flight merge
// invariant: at most one operation is being processed at a time, even
// though workers enqueue concurrently.
type Engine struct {
	git      gitutil.Git
	emitter  *core.Emitter
	resolver Resolver

	mu              sync.Mutex
	originalBranch  string
	sessionBranch   string
	sessionStartTag string
	queue           []*models.MergeOperation
	draining        bool
}

// New builds an Engine. resolver may be nil, in which case conflicted
// operations are left conflicted for the caller to inspect rather than
// auto-resolved.
func New(git gitutil.Git, emitter *core.Emitter, resolver Resolver) *Engine {
	return &Engine{git: git, emitter: emitter, resolver: resolver}
}

// Start resolves the current branch as the original branch, creates the
// session integration branch off it, and tags the session start commit
// for a full-session rollback.
func (e *Engine) Start(ctx context.Context, shortSessionID string) error {
	original, err := e.git.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("resolving original branch: %w", err)
	}
	sessionBranch := "ralph-session/" + shortSessionID
	if err := e.git.Checkout(ctx, sessionBranch, true); err != nil {
		return fmt.Errorf("creating session branch: %w", err)
	}
	startTag := "ralph/session-start/" + shortSessionID
	if err := e.git.Tag(ctx, startTag, ""); err != nil {
		return fmt.Errorf("tagging session start: %w", err)
	}

	e.mu.Lock()
	e.originalBranch = original
	e.sessionBranch = sessionBranch
	e.sessionStartTag = startTag
	e.mu.Unlock()

	e.emit(core.Event{Type: core.EventParallelSessionBranchCreated, SessionID: shortSessionID, Message: sessionBranch})
	return nil
}

// Resume restores Engine state for a previously-started session loaded
// from disk, without creating a new session branch or start tag.
func (e *Engine) Resume(originalBranch, sessionBranch, sessionStartTag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.originalBranch = originalBranch
	e.sessionBranch = sessionBranch
	e.sessionStartTag = sessionStartTag
}

// OriginalBranch returns the branch the session started from.
func (e *Engine) OriginalBranch() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.originalBranch
}

// SessionBranch returns the session's integration branch.
func (e *Engine) SessionBranch() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionBranch
}

// SessionStartTag returns the tag marking the session's starting commit.
func (e *Engine) SessionStartTag() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionStartTag
}

// Enqueue appends a MergeOperation for workerResult to the FIFO queue
// and returns it. Enqueue itself never blocks on git; only ProcessNext
// drains the queue.
func (e *Engine) Enqueue(workerResult *models.WorkerResult) *models.MergeOperation {
	opID := uuid.NewString()
	op := &models.MergeOperation{
		ID:            opID,
		WorkerResult:  workerResult,
		SourceBranch:  workerResult.Branch,
		TargetBranch:  e.sessionBranchName(),
		CommitMessage: commitMessage(workerResult),
		BackupTag:     "ralph-backup/" + opID,
		Status:        models.MergeStatusQueued,
		QueuedAt:      time.Now(),
	}

	e.mu.Lock()
	e.queue = append(e.queue, op)
	e.mu.Unlock()

	e.emit(core.Event{Type: core.EventMergeQueued, OperationID: opID, TaskID: workerResult.Task.ID})
	return op
}

func (e *Engine) sessionBranchName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionBranch
}

func commitMessage(wr *models.WorkerResult) string {
	return fmt.Sprintf("feat(ralph): %s - %s\n\nIteration: %d\nAgent: ralph-tui",
		wr.Task.ID, wr.Task.SingleLineTitle(), wr.IterationsRun)
}

// ProcessNext drains the head of the queue, or returns (nil, false) if
// the queue is empty.
func (e *Engine) ProcessNext(ctx context.Context) (*models.MergeOperation, bool, error) {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return nil, false, nil
	}
	op := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()

	e.emit(core.Event{Type: core.EventMergeStarted, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID})
	op.Status = models.MergeStatusInProgress

	if err := e.git.Tag(ctx, op.BackupTag, ""); err != nil {
		return op, true, fmt.Errorf("tagging backup: %w", err)
	}
	if err := e.git.Checkout(ctx, op.TargetBranch, false); err != nil {
		return op, true, fmt.Errorf("checking out session branch: %w", err)
	}

	mergeErr := e.git.Merge(ctx, op.SourceBranch, gitutil.MergeOpts{NoCommit: true})
	if mergeErr == nil {
		if err := e.git.Commit(ctx, op.CommitMessage); err != nil {
			return e.failAndRollback(ctx, op, fmt.Errorf("committing merge: %w", err))
		}
		now := time.Now()
		op.Status = models.MergeStatusCompleted
		op.CompletedAt = &now
		e.emit(core.Event{Type: core.EventMergeCompleted, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID})
		return op, true, nil
	}

	conflicted, conflictErr := e.git.ConflictedFiles(ctx)
	if conflictErr != nil || len(conflicted) == 0 {
		_ = e.git.MergeAbort(ctx)
		return e.failAndRollback(ctx, op, mergeErr)
	}

	_ = e.git.MergeAbort(ctx)
	op.Status = models.MergeStatusConflicted
	op.ConflictedFiles = conflicted
	e.emit(core.Event{Type: core.EventConflictDetected, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID, ConflictFiles: conflicted})
	return op, true, nil
}

// failAndRollback marks op failed, resets the session branch back to its
// backup tag, and emits merge:rolled-back.
func (e *Engine) failAndRollback(ctx context.Context, op *models.MergeOperation, cause error) (*models.MergeOperation, bool, error) {
	op.Status = models.MergeStatusFailed
	if err := e.git.ResetHard(ctx, op.BackupTag); err != nil {
		return op, true, fmt.Errorf("%w (and rollback failed: %v)", cause, err)
	}
	e.emit(core.Event{Type: core.EventMergeRolledBack, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID, Error: cause})
	e.emit(core.Event{Type: core.EventMergeFailed, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID, Error: cause})
	return op, true, cause
}

// Retry re-enqueues a conflicted or failed operation at the head of the
// queue, so it is processed before any operation enqueued afterward.
func (e *Engine) Retry(op *models.MergeOperation) {
	op.Status = models.MergeStatusQueued
	e.mu.Lock()
	e.queue = append([]*models.MergeOperation{op}, e.queue...)
	e.mu.Unlock()
}

// Abandon rolls a conflicted operation back permanently (no AI or manual
// resolution available/succeeded) and drops it from consideration.
func (e *Engine) Abandon(ctx context.Context, op *models.MergeOperation) error {
	if err := e.git.ResetHard(ctx, op.BackupTag); err != nil {
		return err
	}
	op.Status = models.MergeStatusRolledBack
	e.emit(core.Event{Type: core.EventMergeRolledBack, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID})
	return nil
}

// CleanupTags deletes every backup tag created during the session.
func (e *Engine) CleanupTags(ctx context.Context, finished []*models.MergeOperation) {
	for _, op := range finished {
		_ = e.git.DeleteTag(ctx, op.BackupTag)
	}
}

// ReturnToOriginalBranch checks out the branch the session started from.
func (e *Engine) ReturnToOriginalBranch(ctx context.Context) error {
	e.mu.Lock()
	original := e.originalBranch
	e.mu.Unlock()
	if original == "" {
		return nil
	}
	return e.git.Checkout(ctx, original, false)
}

// Resolve runs the injected Resolver over a conflicted operation's
// files. It first re-enters the merge (git merge --no-commit against the
// source branch, expected to exit non-zero with the index back in
// conflict stages) so the three-way content can be read via index
// stages 1 (base), 2 (ours), 3 (theirs), per spec.md §4.8 step 1.
func (e *Engine) Resolve(ctx context.Context, op *models.MergeOperation) ([]models.ConflictResolutionResult, error) {
	if e.resolver == nil {
		return nil, fmt.Errorf("merge: no conflict resolver configured")
	}

	_ = e.git.Merge(ctx, op.SourceBranch, gitutil.MergeOpts{NoCommit: true})

	conflicts := make([]models.FileConflict, 0, len(op.ConflictedFiles))
	for _, path := range op.ConflictedFiles {
		base, _ := e.git.ShowIndexStage(ctx, 1, path)
		ours, _ := e.git.ShowIndexStage(ctx, 2, path)
		theirs, _ := e.git.ShowIndexStage(ctx, 3, path)
		conflicts = append(conflicts, models.FileConflict{
			FilePath: path,
			Base:     base,
			Ours:     ours,
			Theirs:   theirs,
		})
	}

	e.emit(core.Event{Type: core.EventConflictDetected, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID, ConflictFiles: op.ConflictedFiles})
	e.emit(core.Event{Type: core.EventConflictAIResolving, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID})
	results, err := e.resolver(ctx, conflicts)
	if err != nil {
		e.emit(core.Event{Type: core.EventConflictAIFailed, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID, Error: err})
		return nil, err
	}
	e.emit(core.Event{Type: core.EventConflictAIResolved, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID})
	return results, nil
}

// ApplyResolution writes each successfully resolved file to the working
// tree and stages it, then completes the merge with a commit (spec.md
// §4.8 steps 4/6). If any file failed to resolve (a nil/error result),
// the merge is aborted and the session branch reset to the operation's
// backup tag instead (step 5).
func (e *Engine) ApplyResolution(ctx context.Context, op *models.MergeOperation, results []models.ConflictResolutionResult, repoRoot string) error {
	for _, res := range results {
		if !res.Success {
			_ = e.git.MergeAbort(ctx)
			return e.abandonAfterFailedResolution(ctx, op, fmt.Errorf("merge: conflict resolution failed for %s", res.FilePath))
		}
		path := filepath.Join(repoRoot, res.FilePath)
		if err := os.WriteFile(path, []byte(res.ResolvedContent), 0o644); err != nil {
			_ = e.git.MergeAbort(ctx)
			return e.abandonAfterFailedResolution(ctx, op, fmt.Errorf("writing resolved %s: %w", res.FilePath, err))
		}
	}
	// AddAll stages the resolved content (and any other already-staged
	// hunks from the re-entered merge) in one shot.
	if err := e.git.AddAll(ctx); err != nil {
		_ = e.git.MergeAbort(ctx)
		return e.abandonAfterFailedResolution(ctx, op, fmt.Errorf("staging resolved files: %w", err))
	}
	if err := e.git.Commit(ctx, op.CommitMessage); err != nil {
		_ = e.git.MergeAbort(ctx)
		return e.abandonAfterFailedResolution(ctx, op, fmt.Errorf("committing resolved merge: %w", err))
	}

	now := time.Now()
	op.Status = models.MergeStatusCompleted
	op.CompletedAt = &now
	e.emit(core.Event{Type: core.EventConflictResolved, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID})
	e.emit(core.Event{Type: core.EventMergeCompleted, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID})
	return nil
}

// abandonAfterFailedResolution resets the session branch back to op's
// backup tag and emits merge:rolled-back, returning cause to the caller.
func (e *Engine) abandonAfterFailedResolution(ctx context.Context, op *models.MergeOperation, cause error) error {
	op.Status = models.MergeStatusFailed
	if err := e.git.ResetHard(ctx, op.BackupTag); err != nil {
		return fmt.Errorf("%w (and rollback failed: %v)", cause, err)
	}
	e.emit(core.Event{Type: core.EventMergeRolledBack, OperationID: op.ID, TaskID: op.WorkerResult.Task.ID, Error: cause})
	return cause
}

func (e *Engine) emit(ev core.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

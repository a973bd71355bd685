package merge

import (
	"context"
	"testing"

	"github.com/ralph-tui/ralph-tui/internal/gitutil"
	"github.com/ralph-tui/ralph-tui/pkg/core"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

type fakeGit struct {
	currentBranch   string
	conflictedFiles []string
	mergeErr        error
	checkoutCalls   []string
	tagCalls        []string
	resetCalls      []string
	committed       bool
}

func (f *fakeGit) WorktreeAdd(ctx context.Context, path, branch, from string) error { return nil }
func (f *fakeGit) WorktreeRemove(ctx context.Context, path string, force bool) error { return nil }
func (f *fakeGit) Checkout(ctx context.Context, branch string, create bool) error {
	f.checkoutCalls = append(f.checkoutCalls, branch)
	return nil
}
func (f *fakeGit) CurrentBranch(ctx context.Context) (string, error) { return f.currentBranch, nil }
func (f *fakeGit) Tag(ctx context.Context, name, ref string) error {
	f.tagCalls = append(f.tagCalls, name)
	return nil
}
func (f *fakeGit) DeleteTag(ctx context.Context, name string) error        { return nil }
func (f *fakeGit) RevParse(ctx context.Context, ref string) (string, error) { return "sha123", nil }
func (f *fakeGit) Status(ctx context.Context) (string, error)              { return "", nil }
func (f *fakeGit) HasUncommittedChanges(ctx context.Context) (bool, error) { return false, nil }
func (f *fakeGit) ConflictedFiles(ctx context.Context) ([]string, error)  { return f.conflictedFiles, nil }
func (f *fakeGit) Show(ctx context.Context, ref string) (string, error)   { return "", nil }
func (f *fakeGit) ShowIndexStage(ctx context.Context, stage int, path string) (string, error) {
	return "content", nil
}
func (f *fakeGit) AddAll(ctx context.Context) error { return nil }
func (f *fakeGit) Commit(ctx context.Context, message string) error {
	f.committed = true
	return nil
}
func (f *fakeGit) Merge(ctx context.Context, branch string, opts gitutil.MergeOpts) error {
	return f.mergeErr
}
func (f *fakeGit) MergeAbort(ctx context.Context) error { return nil }
func (f *fakeGit) ResetHard(ctx context.Context, ref string) error {
	f.resetCalls = append(f.resetCalls, ref)
	return nil
}
func (f *fakeGit) PullRebase(ctx context.Context) error { return nil }

func testWorkerResult(taskID, branch string) *models.WorkerResult {
	return &models.WorkerResult{
		Task:   &models.Task{ID: taskID, Title: "do the thing"},
		Branch: branch,
	}
}

func TestStartCreatesSessionBranchAndTag(t *testing.T) {
	g := &fakeGit{currentBranch: "main"}
	e := New(g, core.NewEmitter(8), nil)
	if err := e.Start(context.Background(), "abc123"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(g.checkoutCalls) != 1 || g.checkoutCalls[0] != "ralph-session/abc123" {
		t.Errorf("checkoutCalls = %v", g.checkoutCalls)
	}
	if len(g.tagCalls) != 1 {
		t.Errorf("expected one tag call, got %v", g.tagCalls)
	}
}

func TestProcessNextCleanMergeCommits(t *testing.T) {
	g := &fakeGit{currentBranch: "main"}
	e := New(g, core.NewEmitter(8), nil)
	_ = e.Start(context.Background(), "s1")
	e.Enqueue(testWorkerResult("task-1", "ralph-parallel/task-1"))

	op, had, err := e.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if !had {
		t.Fatal("expected an operation to be processed")
	}
	if op.Status != models.MergeStatusCompleted {
		t.Errorf("Status = %v, want completed", op.Status)
	}
	if !g.committed {
		t.Error("expected a commit to have been made")
	}
}

func TestProcessNextConflictMarksConflicted(t *testing.T) {
	g := &fakeGit{currentBranch: "main", mergeErr: errConflict, conflictedFiles: []string{"a.go"}}
	e := New(g, core.NewEmitter(8), nil)
	_ = e.Start(context.Background(), "s1")
	e.Enqueue(testWorkerResult("task-1", "ralph-parallel/task-1"))

	op, _, err := e.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if op.Status != models.MergeStatusConflicted {
		t.Errorf("Status = %v, want conflicted", op.Status)
	}
	if len(op.ConflictedFiles) != 1 || op.ConflictedFiles[0] != "a.go" {
		t.Errorf("ConflictedFiles = %v", op.ConflictedFiles)
	}
}

func TestResolveExtractsThreeWayContent(t *testing.T) {
	g := &fakeGit{}
	called := false
	resolver := func(ctx context.Context, conflicts []models.FileConflict) ([]models.ConflictResolutionResult, error) {
		called = true
		var results []models.ConflictResolutionResult
		for _, c := range conflicts {
			results = append(results, models.ConflictResolutionResult{FilePath: c.FilePath, Success: true})
		}
		return results, nil
	}
	e := New(g, core.NewEmitter(8), resolver)
	op := &models.MergeOperation{
		ID:              "op1",
		WorkerResult:    testWorkerResult("task-1", "b"),
		ConflictedFiles: []string{"a.go"},
	}
	results, err := e.Resolve(context.Background(), op)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !called {
		t.Fatal("expected resolver to be invoked")
	}
	if len(results) != 1 || !results[0].Success {
		t.Errorf("results = %+v", results)
	}
}

func TestApplyResolutionCommitsOnSuccess(t *testing.T) {
	g := &fakeGit{}
	e := New(g, core.NewEmitter(8), nil)
	dir := t.TempDir()
	op := &models.MergeOperation{
		ID:            "op1",
		WorkerResult:  testWorkerResult("task-1", "b"),
		CommitMessage: "feat(ralph): task-1 - do the thing",
		BackupTag:     "ralph-backup/op1",
	}
	results := []models.ConflictResolutionResult{
		{FilePath: "a.go", Success: true, ResolvedContent: "package a\n"},
	}

	if err := e.ApplyResolution(context.Background(), op, results, dir); err != nil {
		t.Fatalf("ApplyResolution: %v", err)
	}
	if op.Status != models.MergeStatusCompleted {
		t.Errorf("Status = %v, want completed", op.Status)
	}
	if !g.committed {
		t.Error("expected a commit to have been made")
	}
	if len(g.resetCalls) != 0 {
		t.Errorf("expected no rollback on success, got %v", g.resetCalls)
	}
}

func TestApplyResolutionRollsBackOnFailure(t *testing.T) {
	g := &fakeGit{}
	e := New(g, core.NewEmitter(8), nil)
	dir := t.TempDir()
	op := &models.MergeOperation{
		ID:            "op1",
		WorkerResult:  testWorkerResult("task-1", "b"),
		CommitMessage: "feat(ralph): task-1 - do the thing",
		BackupTag:     "ralph-backup/op1",
	}
	results := []models.ConflictResolutionResult{
		{FilePath: "a.go", Success: false},
	}

	err := e.ApplyResolution(context.Background(), op, results, dir)
	if err == nil {
		t.Fatal("expected an error")
	}
	if op.Status != models.MergeStatusFailed {
		t.Errorf("Status = %v, want failed", op.Status)
	}
	if len(g.resetCalls) != 1 || g.resetCalls[0] != op.BackupTag {
		t.Errorf("resetCalls = %v, want [%s]", g.resetCalls, op.BackupTag)
	}
	if g.committed {
		t.Error("expected no commit on failed resolution")
	}
}

var errConflict = &mergeConflictErr{}

type mergeConflictErr struct{}

func (e *mergeConflictErr) Error() string { return "merge conflict" }

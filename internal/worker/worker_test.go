package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/commitlock"
	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/gitutil"
	"github.com/ralph-tui/ralph-tui/pkg/core"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// fakeGit is a minimal in-memory gitutil.Git: every operation succeeds,
// and HasUncommittedChanges/commits are controllable for asserting the
// commitIfDirty path (spec.md §4.6 step 8).
type fakeGit struct {
	mu      sync.Mutex
	dirty   bool
	commits []string
	addAll  int
}

func (f *fakeGit) WorktreeAdd(ctx context.Context, path, branch, from string) error  { return nil }
func (f *fakeGit) WorktreeRemove(ctx context.Context, path string, force bool) error { return nil }
func (f *fakeGit) Checkout(ctx context.Context, branch string, create bool) error    { return nil }
func (f *fakeGit) CurrentBranch(ctx context.Context) (string, error)                { return "main", nil }
func (f *fakeGit) Tag(ctx context.Context, name, ref string) error                   { return nil }
func (f *fakeGit) DeleteTag(ctx context.Context, name string) error                  { return nil }
func (f *fakeGit) RevParse(ctx context.Context, ref string) (string, error)          { return "sha", nil }
func (f *fakeGit) Status(ctx context.Context) (string, error)                        { return "", nil }
func (f *fakeGit) HasUncommittedChanges(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty, nil
}
func (f *fakeGit) ConflictedFiles(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeGit) Show(ctx context.Context, ref string) (string, error)  { return "", nil }
func (f *fakeGit) ShowIndexStage(ctx context.Context, stage int, path string) (string, error) {
	return "", nil
}
func (f *fakeGit) AddAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addAll++
	return nil
}
func (f *fakeGit) Commit(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, message)
	return nil
}
func (f *fakeGit) Merge(ctx context.Context, branch string, opts gitutil.MergeOpts) error { return nil }
func (f *fakeGit) MergeAbort(ctx context.Context) error                                   { return nil }
func (f *fakeGit) ResetHard(ctx context.Context, ref string) error                        { return nil }
func (f *fakeGit) PullRebase(ctx context.Context) error                                   { return nil }

// scriptedRunner returns canned results in order, one per call, looping
// on the final entry if Run is called more times than there are results.
type scriptedRunner struct {
	mu      sync.Mutex
	results []core.AgentRunResult
	errs    []error
	calls   []core.AgentRunRequest
}

func (r *scriptedRunner) Run(ctx context.Context, req core.AgentRunRequest) (core.AgentRunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	i := len(r.calls) - 1
	if i >= len(r.results) {
		i = len(r.results) - 1
	}
	var err error
	if i < len(r.errs) {
		err = r.errs[i]
	}
	return r.results[i], err
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func testCfg() config.WorkerConfig {
	return config.WorkerConfig{
		MaxIterations: 5,
		AgentTimeout:  time.Second,
		MaxRetries:    1,
		RetryDelay:    time.Millisecond,
		AutoCommit:    false,
	}
}

func testRLCfg() config.RateLimitConfig {
	return config.RateLimitConfig{BaseBackoff: time.Millisecond, Factor: 2.0, JitterFrac: 0}
}

func newLockIn(dir string) *commitlock.Lock {
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		panic(err)
	}
	return commitlock.New(dir, time.Millisecond, 5)
}

func TestRunCompletesOnMarkerAndConfirmedReady(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "do the thing"}
	wt := &models.Worktree{Path: t.TempDir(), Branch: "ralph/t1"}
	runner := &scriptedRunner{results: []core.AgentRunResult{{Stdout: CompletionMarker}}}
	git := &fakeGit{}

	w := New("w1", task, wt, runner, git, newLockIn(wt.Path), nil, noopRender, nil, testCfg(), testRLCfg(), AgentConfig{Name: "primary"}, nil)

	result := w.Run(context.Background(), func(ctx context.Context, id string) (bool, error) { return true, nil })

	if !result.Success || !result.TaskCompleted {
		t.Fatalf("expected success+completed, got %+v", result)
	}
	if result.IterationsRun != 1 {
		t.Errorf("IterationsRun = %d, want 1", result.IterationsRun)
	}
	if runner.callCount() != 1 {
		t.Errorf("expected exactly one agent run, got %d", runner.callCount())
	}
}

func TestRunKeepsIteratingWhenTrackerSaysNotReady(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "do the thing"}
	wt := &models.Worktree{Path: t.TempDir(), Branch: "ralph/t1"}
	runner := &scriptedRunner{results: []core.AgentRunResult{
		{Stdout: CompletionMarker},
		{Stdout: CompletionMarker},
	}}
	git := &fakeGit{}

	calls := 0
	w := New("w1", task, wt, runner, git, newLockIn(wt.Path), nil, noopRender, nil, testCfg(), testRLCfg(), AgentConfig{Name: "primary"}, nil)

	result := w.Run(context.Background(), func(ctx context.Context, id string) (bool, error) {
		calls++
		return calls >= 2, nil
	})

	if !result.TaskCompleted {
		t.Fatalf("expected eventual completion, got %+v", result)
	}
	if result.IterationsRun != 2 {
		t.Errorf("IterationsRun = %d, want 2", result.IterationsRun)
	}
}

func TestRunStopsAtMaxIterationsWithoutMarker(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "never finishes"}
	wt := &models.Worktree{Path: t.TempDir(), Branch: "ralph/t1"}
	runner := &scriptedRunner{results: []core.AgentRunResult{{Stdout: "still working"}}}
	git := &fakeGit{}

	cfg := testCfg()
	cfg.MaxIterations = 3
	w := New("w1", task, wt, runner, git, newLockIn(wt.Path), nil, noopRender, nil, cfg, testRLCfg(), AgentConfig{Name: "primary"}, nil)

	result := w.Run(context.Background(), nil)

	if result.TaskCompleted {
		t.Fatalf("did not expect completion, got %+v", result)
	}
	if result.IterationsRun != 3 {
		t.Errorf("IterationsRun = %d, want 3", result.IterationsRun)
	}
	if runner.callCount() != 3 {
		t.Errorf("callCount = %d, want 3", runner.callCount())
	}
}

func TestRunAbortsAfterRetriesExhausted(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "flaky"}
	wt := &models.Worktree{Path: t.TempDir(), Branch: "ralph/t1"}
	boom := errSentinel("boom")
	runner := &scriptedRunner{
		results: []core.AgentRunResult{{}, {}},
		errs:    []error{boom, boom},
	}
	git := &fakeGit{}

	cfg := testCfg()
	cfg.MaxRetries = 1
	w := New("w1", task, wt, runner, git, newLockIn(wt.Path), nil, noopRender, nil, cfg, testRLCfg(), AgentConfig{Name: "primary"}, nil)

	result := w.Run(context.Background(), nil)

	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Error == nil {
		t.Fatal("expected a recorded error")
	}
	if runner.callCount() != 2 {
		t.Errorf("callCount = %d, want 2 (one retry)", runner.callCount())
	}
}

func TestRunSwitchesToFallbackOnRateLimit(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "rate limited"}
	wt := &models.Worktree{Path: t.TempDir(), Branch: "ralph/t1"}
	runner := &scriptedRunner{results: []core.AgentRunResult{
		{RateLimited: true},
		{Stdout: CompletionMarker},
	}}
	git := &fakeGit{}

	primary := AgentConfig{Name: "primary", Model: "big"}
	fallback := AgentConfig{Name: "fallback", Model: "small"}
	w := New("w1", task, wt, runner, git, newLockIn(wt.Path), nil, noopRender, nil, testCfg(), testRLCfg(), primary, []AgentConfig{fallback})

	result := w.Run(context.Background(), func(ctx context.Context, id string) (bool, error) { return true, nil })

	if !result.TaskCompleted {
		t.Fatalf("expected completion after fallback, got %+v", result)
	}
	if runner.calls[1].Model != fallback.Model {
		t.Errorf("second call used model %q, want fallback %q", runner.calls[1].Model, fallback.Model)
	}
}

func TestRunCommitsDirtyWorktreeWhenAutoCommitEnabled(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "commits work"}
	wt := &models.Worktree{Path: t.TempDir(), Branch: "ralph/t1"}
	runner := &scriptedRunner{results: []core.AgentRunResult{{Stdout: CompletionMarker}}}
	git := &fakeGit{dirty: true}

	cfg := testCfg()
	cfg.AutoCommit = true
	w := New("w1", task, wt, runner, git, newLockIn(wt.Path), nil, noopRender, nil, cfg, testRLCfg(), AgentConfig{Name: "primary"}, nil)

	result := w.Run(context.Background(), func(ctx context.Context, id string) (bool, error) { return true, nil })

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if git.addAll != 1 {
		t.Errorf("addAll calls = %d, want 1", git.addAll)
	}
	if len(git.commits) != 1 {
		t.Fatalf("commits = %v, want exactly one", git.commits)
	}
	if got := git.commits[0]; got == "" {
		t.Error("expected a non-empty commit message")
	}
}

func TestRunHonorsCancelCheckBeforeFirstIteration(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "cancel me"}
	wt := &models.Worktree{Path: t.TempDir(), Branch: "ralph/t1"}
	runner := &scriptedRunner{results: []core.AgentRunResult{{Stdout: CompletionMarker}}}
	git := &fakeGit{}

	w := New("w1", task, wt, runner, git, newLockIn(wt.Path), nil, noopRender, nil, testCfg(), testRLCfg(), AgentConfig{Name: "primary"}, nil)
	w.SetCancelCheck(func() bool { return true })

	result := w.Run(context.Background(), nil)

	if result.Error == nil {
		t.Fatal("expected a cancellation error")
	}
	if runner.callCount() != 0 {
		t.Errorf("expected no agent runs once cancelled, got %d", runner.callCount())
	}
}

func noopRender(task *models.Task, iteration int) string {
	return "do " + task.ID
}

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

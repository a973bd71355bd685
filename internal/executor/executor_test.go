package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/gitutil"
	"github.com/ralph-tui/ralph-tui/internal/worker"
	"github.com/ralph-tui/ralph-tui/pkg/core"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// fakeGit is a minimal in-memory gitutil.Git: every branch/worktree
// operation succeeds and merges always fast-forward cleanly, matching
// the common-case end-to-end scenarios of spec.md §8.
type fakeGit struct {
	mu            sync.Mutex
	currentBranch string
	commits       []string
}

func (f *fakeGit) WorktreeAdd(ctx context.Context, path, branch, from string) error  { return nil }
func (f *fakeGit) WorktreeRemove(ctx context.Context, path string, force bool) error { return nil }
func (f *fakeGit) Checkout(ctx context.Context, branch string, create bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentBranch = branch
	return nil
}
func (f *fakeGit) CurrentBranch(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentBranch, nil
}
func (f *fakeGit) Tag(ctx context.Context, name, ref string) error          { return nil }
func (f *fakeGit) DeleteTag(ctx context.Context, name string) error         { return nil }
func (f *fakeGit) RevParse(ctx context.Context, ref string) (string, error) { return "sha", nil }
func (f *fakeGit) Status(ctx context.Context) (string, error)               { return "", nil }
func (f *fakeGit) HasUncommittedChanges(ctx context.Context) (bool, error)  { return false, nil }
func (f *fakeGit) ConflictedFiles(ctx context.Context) ([]string, error)    { return nil, nil }
func (f *fakeGit) Show(ctx context.Context, ref string) (string, error)     { return "", nil }
func (f *fakeGit) ShowIndexStage(ctx context.Context, stage int, path string) (string, error) {
	return "", nil
}
func (f *fakeGit) AddAll(ctx context.Context) error { return nil }
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

// fakeTracker is an in-memory core.Tracker seeded with a fixed task set.
// CompleteTask records completed ids; GetTasks always returns the full
// seeded set (the executor itself never needs status-filtered queries).
type fakeTracker struct {
	mu        sync.Mutex
	tasks     []*models.Task
	completed []string
}

func (t *fakeTracker) GetTasks(ctx context.Context, filter *core.TaskFilter) ([]*models.Task, error) {
	return t.tasks, nil
}

func (t *fakeTracker) CompleteTask(ctx context.Context, id string) (core.CompleteTaskResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = append(t.completed, id)
	return core.CompleteTaskResult{Success: true}, nil
}

func (t *fakeTracker) IsTaskReady(ctx context.Context, id string) (bool, error) {
	return true, nil
}

// fakeRunner is a core.AgentRunner that completes every task on its
// first iteration by emitting the worker completion marker.
type fakeRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeRunner) Run(ctx context.Context, req core.AgentRunRequest) (core.AgentRunResult, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return core.AgentRunResult{
		ExitCode: 0,
		Stdout:   worker.CompletionMarker,
	}, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduling: config.SchedulingConfig{MaxWorkers: 4},
		Worker: config.WorkerConfig{
			MaxIterations: 5,
			AgentTimeout:  time.Second,
			MaxRetries:    1,
			RetryDelay:    time.Millisecond,
			AutoCommit:    true,
		},
		Merge:      config.MergeConfig{MaxMergeRetries: 3, ResolverTimeout: time.Minute},
		CommitLock: config.CommitLockConfig{RetryDelay: time.Millisecond, MaxAttempts: 5},
		Stream:     config.StreamConfig{LimitBytes: 1 << 20},
		RateLimit:  config.RateLimitConfig{BaseBackoff: time.Millisecond, Factor: 2.0, JitterFrac: 0},
		Pricing:    map[string]config.ModelPricing{},
	}
}

func noopRender(task *models.Task, iteration int) string {
	return "do " + task.ID
}

func TestExecuteLinearChainMergesSequentially(t *testing.T) {
	tasks := []*models.Task{
		{ID: "task-1", Title: "first", Status: models.TaskStatusOpen},
		{ID: "task-2", Title: "second", Status: models.TaskStatusOpen, DependsOn: []string{"task-1"}},
	}
	tracker := &fakeTracker{tasks: tasks}
	runner := &fakeRunner{}

	exec := New(Options{
		Cfg:     testConfig(),
		Cwd:     t.TempDir(),
		Tracker: tracker,
		Runner:  runner,
		Render:  noopRender,
		Primary: worker.AgentConfig{Name: "primary", Model: "claude-test"},
		Git:     &fakeGit{currentBranch: "main"},
	})

	totals, err := exec.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(totals.MergedTaskIDs) != 2 {
		t.Fatalf("MergedTaskIDs = %v, want 2 entries", totals.MergedTaskIDs)
	}
	if totals.MergedTaskIDs[0] != "task-1" || totals.MergedTaskIDs[1] != "task-2" {
		t.Errorf("merge order = %v, want [task-1 task-2]", totals.MergedTaskIDs)
	}
	if len(totals.FailedTaskIDs) != 0 {
		t.Errorf("FailedTaskIDs = %v, want none", totals.FailedTaskIDs)
	}
	if len(tracker.completed) != 2 {
		t.Errorf("tracker.completed = %v, want 2 entries", tracker.completed)
	}
}

func TestExecuteTwoIndependentTasksMergeInOneGroup(t *testing.T) {
	tasks := []*models.Task{
		{ID: "task-a", Title: "alpha", Status: models.TaskStatusOpen},
		{ID: "task-b", Title: "beta", Status: models.TaskStatusOpen},
	}
	tracker := &fakeTracker{tasks: tasks}
	runner := &fakeRunner{}

	exec := New(Options{
		Cfg:     testConfig(),
		Cwd:     t.TempDir(),
		Tracker: tracker,
		Runner:  runner,
		Render:  noopRender,
		Primary: worker.AgentConfig{Name: "primary", Model: "claude-test"},
		Git:     &fakeGit{currentBranch: "main"},
	})

	totals, err := exec.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(totals.MergedTaskIDs) != 2 {
		t.Fatalf("MergedTaskIDs = %v, want 2 entries", totals.MergedTaskIDs)
	}
	if runner.callCount() != 2 {
		t.Errorf("runner called %d times, want 2 (one iteration per independent task)", runner.callCount())
	}
}

func TestExecuteRejectsCyclicGraphWithoutSpawningWorkers(t *testing.T) {
	tasks := []*models.Task{
		{ID: "task-1", Title: "first", Status: models.TaskStatusOpen, DependsOn: []string{"task-2"}},
		{ID: "task-2", Title: "second", Status: models.TaskStatusOpen, DependsOn: []string{"task-1"}},
	}
	tracker := &fakeTracker{tasks: tasks}
	runner := &fakeRunner{}

	exec := New(Options{
		Cfg:     testConfig(),
		Cwd:     t.TempDir(),
		Tracker: tracker,
		Runner:  runner,
		Render:  noopRender,
		Primary: worker.AgentConfig{Name: "primary", Model: "claude-test"},
		Git:     &fakeGit{currentBranch: "main"},
	})

	var sawFailed bool
	go func() {
		for ev := range exec.Events() {
			if ev.Type == core.EventParallelFailed && ev.Reason == "graph-cyclic" {
				sawFailed = true
			}
		}
	}()

	_, err := exec.Execute(context.Background(), false)
	if err == nil {
		t.Fatal("expected an error for a cyclic task graph")
	}
	if runner.callCount() != 0 {
		t.Errorf("runner called %d times, want 0 for a cyclic graph", runner.callCount())
	}
	exec.emitter.Close()
	time.Sleep(10 * time.Millisecond)
	if !sawFailed {
		t.Error("expected a parallel:failed{graph-cyclic} event")
	}
}

func TestExecuteCancelStopsBeforeNextGroup(t *testing.T) {
	tasks := []*models.Task{
		{ID: "task-1", Title: "first", Status: models.TaskStatusOpen},
		{ID: "task-2", Title: "second", Status: models.TaskStatusOpen, DependsOn: []string{"task-1"}},
	}
	tracker := &fakeTracker{tasks: tasks}
	runner := &fakeRunner{}

	exec := New(Options{
		Cfg:     testConfig(),
		Cwd:     t.TempDir(),
		Tracker: tracker,
		Runner:  runner,
		Render:  noopRender,
		Primary: worker.AgentConfig{Name: "primary", Model: "claude-test"},
		Git:     &fakeGit{currentBranch: "main"},
	})
	exec.Cancel()

	totals, err := exec.Execute(context.Background(), false)
	if err == nil {
		t.Fatal("expected an error for a cancelled execution")
	}
	if totals == nil || len(totals.MergedTaskIDs) != 0 {
		t.Errorf("expected no merges once cancelled before the first group, got %+v", totals)
	}
}

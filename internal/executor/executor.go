// Package executor implements the top-level ParallelExecutor of spec.md
// §4.10: analyze the task graph, open or resume a session, run each
// topological group's workers in parallel on isolated worktrees, drain
// the merge queue serially, persist a checkpoint, and repeat.
package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ralph-tui/ralph-tui/internal/budget"
	"github.com/ralph-tui/ralph-tui/internal/commitlock"
	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/escalation"
	"github.com/ralph-tui/ralph-tui/internal/gitutil"
	"github.com/ralph-tui/ralph-tui/internal/graph"
	"github.com/ralph-tui/ralph-tui/internal/merge"
	"github.com/ralph-tui/ralph-tui/internal/scheduler"
	"github.com/ralph-tui/ralph-tui/internal/session"
	"github.com/ralph-tui/ralph-tui/internal/tokens"
	"github.com/ralph-tui/ralph-tui/internal/worker"
	"github.com/ralph-tui/ralph-tui/internal/worktree"
	"github.com/ralph-tui/ralph-tui/pkg/core"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// Options configures an Executor. Cfg, Cwd, Tracker, Runner and Render
// are required; everything else has a sensible default.
type Options struct {
	Cfg     *config.Config
	Cwd     string
	Tracker core.Tracker
	Runner  core.AgentRunner
	Render  worker.PromptRenderer

	Primary   worker.AgentConfig
	Fallbacks []worker.AgentConfig

	// Resolver is the injected AI-assisted conflict resolution capability
	// (spec.md §4.8). Nil means conflicted operations are abandoned
	// (rolled back) rather than auto-resolved.
	Resolver merge.Resolver

	// Overlap is the pluggable file-overlap heuristic (spec.md §4.5). Nil
	// uses scheduler.DescriptionPathOverlap.
	Overlap scheduler.OverlapChecker

	// Git is the gitutil.Git implementation to drive. Nil builds a
	// gitutil.Client rooted at Cwd.
	Git gitutil.Git

	// Emitter receives every typed event. Nil creates one with a default
	// buffer.
	Emitter *core.Emitter

	// BudgetTokens bounds cumulative token usage across the whole
	// session (0 = unlimited).
	BudgetTokens int64

	// EscalationTimeout bounds how long an escalated worker failure
	// waits for an external decision (0 = escalation.DefaultTimeout).
	EscalationTimeout time.Duration

	// EnableEscalation opts into the supplemented escalation path
	// (spec.md §12). Off by default: without a registered responder an
	// escalation would otherwise block a worker goroutine for the full
	// EscalationTimeout before defaulting to skip.
	EnableEscalation bool
}

// Totals summarizes a finished (or cancelled) execution.
type Totals struct {
	SessionID     string
	MergedTaskIDs []string
	FailedTaskIDs []string
	Usage         models.TokenUsage
	CostUSD       float64
}

// GroupError records a task that failed within a completed group.
type GroupError struct {
	TaskID string
	Error  error
}

// Executor is the top-level orchestrator. It exclusively owns the merge
// engine, worktree pool, and the live workers for one session (spec.md
// §3 ownership rules).
type Executor struct {
	cfg     *config.Config
	cwd     string
	tracker core.Tracker
	runner  core.AgentRunner
	render  worker.PromptRenderer

	primary   worker.AgentConfig
	fallbacks []worker.AgentConfig

	git      gitutil.Git
	pool     *worktree.Pool
	watcher  *worktree.Watcher
	lock     *commitlock.Lock
	mergeEng *merge.Engine
	sessions *session.Store
	emitter  *core.Emitter
	sched    *scheduler.Scheduler
	agg      *tokens.AggregateTracker
	budget   *budget.Handler
	escalate *escalation.Handler

	escalationEnabled bool
	cancelled         bool
	mu                sync.Mutex
}

// New builds an Executor from opts.
func New(opts Options) *Executor {
	git := opts.Git
	if git == nil {
		git = gitutil.NewClient(opts.Cwd)
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = core.NewEmitter(256)
	}
	overlap := opts.Overlap
	if overlap == nil {
		overlap = scheduler.DescriptionPathOverlap
	}

	agg := tokens.NewAggregateTracker()
	return &Executor{
		cfg:       opts.Cfg,
		cwd:       opts.Cwd,
		tracker:   opts.Tracker,
		runner:    opts.Runner,
		render:    opts.Render,
		primary:   opts.Primary,
		fallbacks: opts.Fallbacks,
		git:       git,
		pool:      worktree.New(opts.Cwd, git),
		lock:      commitlock.New(opts.Cwd, opts.Cfg.CommitLock.RetryDelay, opts.Cfg.CommitLock.MaxAttempts),
		mergeEng:  merge.New(git, emitter, opts.Resolver),
		sessions:  session.New(opts.Cwd),
		emitter:   emitter,
		sched:     scheduler.New(opts.Cfg.Scheduling.MaxWorkers, overlap),
		agg:       agg,
		budget:    budget.New(opts.BudgetTokens, agg),
		escalate:  escalation.New(opts.EscalationTimeout),

		escalationEnabled: opts.EnableEscalation,
	}
}

// Events returns the channel every typed event is published to.
func (e *Executor) Events() <-chan core.Event {
	return e.emitter.Events()
}

// Cancel requests cooperative cancellation by setting a flag that the
// executor and its workers poll: no new workers are spawned, each live
// worker stops before its next iteration or agent spawn, and Execute
// stops before the next group. An agent subprocess that is already
// running is not signalled, and merges already queued for the current
// group are still processed rather than rolled back.
func (e *Executor) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

func (e *Executor) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Execute runs the whole parallel session: analyze, resume-or-create,
// and drive each group to completion (spec.md §4.10).
func (e *Executor) Execute(ctx context.Context, resume bool) (*Totals, error) {
	tasks, err := e.tracker.GetTasks(ctx, nil)
	if err != nil {
		return nil, e.fail(ctx, "tracker-unavailable", fmt.Errorf("fetching tasks: %w", err))
	}

	analysis, err := graph.Analyze(tasks)
	if err != nil {
		return nil, e.fail(ctx, "graph-cyclic", err)
	}
	if len(analysis.CyclicTaskIDs) > 0 {
		e.emit(core.Event{Type: core.EventParallelFailed, Reason: "graph-cyclic", Message: fmt.Sprintf("cyclic tasks: %v", analysis.CyclicTaskIDs)})
		return nil, fmt.Errorf("graph-cyclic: %v", analysis.CyclicTaskIDs)
	}

	e.emit(core.Event{Type: core.EventParallelStarted})
	e.startWorktreeWatch()
	defer e.stopWorktreeWatch()

	state, startGroup, err := e.openSession(ctx, resume, analysis)
	if err != nil {
		return nil, e.fail(ctx, "persistence-failed", err)
	}

	totals := &Totals{SessionID: state.SessionID}
	var finishedOps []*models.MergeOperation

	for idx := startGroup; idx < len(analysis.Groups); idx++ {
		if e.isCancelled() {
			e.emit(core.Event{Type: core.EventParallelFailed, SessionID: state.SessionID, Reason: "cancelled"})
			return totals, fmt.Errorf("cancelled")
		}

		if removed := e.drainWorktreeWatch(); len(removed) > 0 {
			log.Printf("executor: worktrees removed externally since last group: %v", removed)
		}

		group := analysis.Groups[idx]
		e.emit(core.Event{Type: core.EventParallelGroupStarted, SessionID: state.SessionID, Message: fmt.Sprintf("group %d (%d tasks)", idx, len(group.Tasks))})

		results := e.runGroup(ctx, state.SessionBranch, group)

		var groupMerged, groupFailed []string
		var groupErrs []GroupError
		for _, res := range results {
			if res.Error != nil || !res.Success {
				groupFailed = append(groupFailed, res.Task.ID)
				if res.Error != nil {
					groupErrs = append(groupErrs, GroupError{TaskID: res.Task.ID, Error: res.Error})
				}
				continue
			}
			e.mergeEng.Enqueue(res)
		}

		for {
			op, had, err := e.mergeEng.ProcessNext(ctx)
			if !had {
				break
			}
			finishedOps = append(finishedOps, op)

			switch op.Status {
			case models.MergeStatusCompleted:
				if _, err := e.tracker.CompleteTask(ctx, op.WorkerResult.Task.ID); err != nil {
					log.Printf("executor: completeTask(%s) failed: %v", op.WorkerResult.Task.ID, err)
				}
				groupMerged = append(groupMerged, op.WorkerResult.Task.ID)
			case models.MergeStatusConflicted:
				e.resolveOrAbandon(ctx, op, &groupMerged, &groupFailed, &groupErrs)
			case models.MergeStatusFailed:
				groupFailed = append(groupFailed, op.WorkerResult.Task.ID)
				if err != nil {
					groupErrs = append(groupErrs, GroupError{TaskID: op.WorkerResult.Task.ID, Error: err})
				}
			}
		}

		totals.MergedTaskIDs = append(totals.MergedTaskIDs, groupMerged...)
		totals.FailedTaskIDs = append(totals.FailedTaskIDs, groupFailed...)

		next, err := e.sessions.UpdateAfterGroup(state, idx, groupMerged, groupFailed)
		if err != nil {
			return totals, e.fail(ctx, "persistence-failed", err)
		}
		state = next

		e.emit(core.Event{Type: core.EventParallelGroupCompleted, SessionID: state.SessionID, Message: fmt.Sprintf("merged=%d failed=%d", len(groupMerged), len(groupFailed))})
	}

	e.mergeEng.CleanupTags(ctx, finishedOps)
	if err := e.mergeEng.ReturnToOriginalBranch(ctx); err != nil {
		log.Printf("executor: returning to original branch: %v", err)
	}

	totals.Usage = e.agg.TotalUsage()
	totals.CostUSD = e.agg.TotalCostUSD()
	e.emit(core.Event{Type: core.EventParallelCompleted, SessionID: state.SessionID, Message: fmt.Sprintf("merged=%d failed=%d", len(totals.MergedTaskIDs), len(totals.FailedTaskIDs))})
	return totals, nil
}

// openSession loads a resumable session when resume is requested and one
// exists on disk; otherwise it starts a brand-new session branch. On
// resume, the loaded state is cross-referenced against the worktree
// pool's startup sweep so any worktree left behind by an uncleanly
// terminated run is surfaced before the first group runs, rather than
// discovered mid-session (spec.md §12 resume diagnostics).
func (e *Executor) openSession(ctx context.Context, resume bool, analysis *graph.Analysis) (*models.SessionState, int, error) {
	if resume && e.sessions.Exists() {
		recovery, err := e.sessions.CheckForResumableSession(e.pool, map[string]bool{})
		if err == nil && recovery.Resumable {
			log.Printf("executor: %s", session.FormatResumeSuggestion(recovery.State))
			if len(recovery.OrphanedWorktrees) > 0 {
				paths := make([]string, len(recovery.OrphanedWorktrees))
				for i, o := range recovery.OrphanedWorktrees {
					paths[i] = o.Path
				}
				log.Printf("executor: orphaned worktrees from the prior run: %v", paths)
			}

			state := recovery.State
			e.mergeEng.Resume(state.OriginalBranch, state.SessionBranch, state.SessionStartTag)
			return state, state.LastCompletedGroupIndex + 1, nil
		}
		if err != nil {
			log.Printf("executor: failed to load resumable session, starting fresh: %v", err)
		}
	}

	sessionID := uuid.NewString()
	shortID := sessionID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	if err := e.mergeEng.Start(ctx, shortID); err != nil {
		return nil, 0, fmt.Errorf("starting session branch: %w", err)
	}

	serialized := serializeGraph(analysis)
	state := session.Create(sessionID, serialized, e.mergeEng.OriginalBranch(), e.mergeEng.SessionBranch(), e.mergeEng.SessionStartTag())
	if err := e.sessions.Save(state); err != nil {
		return nil, 0, fmt.Errorf("persisting new session: %w", err)
	}
	return state, 0, nil
}

// serializeGraph converts the analyzer's output into the session's
// on-disk representation (spec.md §6 session JSON schema).
func serializeGraph(a *graph.Analysis) models.SerializedGraph {
	ids := make([]string, 0, len(a.Nodes))
	for id := range a.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pairs := make([]models.NodePair, 0, len(ids))
	for _, id := range ids {
		pairs = append(pairs, models.NodePair{ID: id, Node: *a.Nodes[id]})
	}

	return models.SerializedGraph{
		Nodes:               pairs,
		Groups:              a.Groups,
		CyclicTaskIDs:       a.CyclicTaskIDs,
		ActionableTaskCount: a.ActionableCount,
		MaxParallelism:      0,
		RecommendParallel:   a.ActionableCount >= 2,
	}
}

// startWorktreeWatch sweeps for worktree directories orphaned by a prior,
// uncleanly-terminated run and starts a fsnotify watch for any further
// external removal during this session. Both are best-effort: a platform
// without inotify support (or a watch limit reached) only loses the
// early-warning signal, never the session itself.
func (e *Executor) startWorktreeWatch() {
	if err := os.MkdirAll(e.pool.Root(), 0o755); err != nil {
		log.Printf("executor: creating worktree root: %v", err)
		return
	}

	if orphans, err := e.pool.SweepOrphans(map[string]bool{}); err != nil {
		log.Printf("executor: sweeping orphaned worktrees: %v", err)
	} else if len(orphans) > 0 {
		paths := make([]string, len(orphans))
		for i, o := range orphans {
			paths[i] = o.Path
		}
		log.Printf("executor: found orphaned worktrees from a prior run: %v", paths)
	}

	w, err := worktree.NewWatcher(e.pool)
	if err != nil {
		log.Printf("executor: worktree watcher unavailable: %v", err)
		return
	}
	e.watcher = w
}

func (e *Executor) drainWorktreeWatch() []string {
	if e.watcher == nil {
		return nil
	}
	return e.watcher.Drain()
}

func (e *Executor) stopWorktreeWatch() {
	if e.watcher == nil {
		return
	}
	if err := e.watcher.Close(); err != nil {
		log.Printf("executor: closing worktree watcher: %v", err)
	}
}

func (e *Executor) fail(ctx context.Context, reason string, err error) error {
	e.emit(core.Event{Type: core.EventParallelFailed, Reason: reason, Error: err})
	return err
}

func (e *Executor) emit(ev core.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

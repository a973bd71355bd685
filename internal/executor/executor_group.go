package executor

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ralph-tui/ralph-tui/internal/escalation"
	"github.com/ralph-tui/ralph-tui/internal/tokens"
	"github.com/ralph-tui/ralph-tui/internal/worker"
	"github.com/ralph-tui/ralph-tui/pkg/core"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// runGroup runs every task in group through its own Worker on its own
// worktree, bounded by the scheduler's per-group concurrency decision
// (spec.md §4.11: N workers concurrently within a group, full barrier
// between groups). Worker start order is lexicographic by task id
// (group.Tasks is already sorted); completion order is nondeterministic.
func (e *Executor) runGroup(ctx context.Context, baseBranch string, group models.ParallelGroup) []*models.WorkerResult {
	decision := e.sched.Plan(group)

	sem := make(chan struct{}, decision.WorkerCount)
	var wg sync.WaitGroup
	results := make([]*models.WorkerResult, len(group.Tasks))

	for i, task := range group.Tasks {
		if e.isCancelled() || !e.budget.CanStartNew() {
			results[i] = &models.WorkerResult{Task: task, Success: false}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, task *models.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.runOneTask(ctx, baseBranch, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

// runOneTask acquires a worktree, builds a Worker bound to it, runs the
// worker's iteration loop to completion, and releases the worktree
// before returning, regardless of outcome.
func (e *Executor) runOneTask(ctx context.Context, baseBranch string, task *models.Task) *models.WorkerResult {
	workerID := uuid.NewString()

	wt, err := e.pool.Acquire(ctx, workerID, task.ID, baseBranch)
	if err != nil {
		return &models.WorkerResult{Task: task, Success: false, Error: err}
	}
	defer func() {
		if err := e.pool.Release(ctx, workerID, true); err != nil {
			e.emit(core.Event{Type: core.EventWorkerFailed, WorkerID: workerID, TaskID: task.ID, Message: "worktree release failed", Error: err})
		}
	}()

	tracker := tokens.NewTracker(e.primary.Model, e.cfg.Pricing)
	e.agg.Register(workerID, tracker)

	return e.runWorkerWithEscalation(ctx, workerID, task, wt, tracker)
}

// runWorkerWithEscalation runs the worker's iteration loop and, when it
// ends with an error (its retry budget exhausted, or a failed commit)
// while the session is not cancelled, escalates the
// failure and acts on the answer: ActionRetry re-invokes the worker
// against the same worktree, ActionAbort cancels the session so no
// further group starts, and ActionSkip/ActionManualFix leave the task
// recorded as failed and let the group continue (spec.md §12).
func (e *Executor) runWorkerWithEscalation(ctx context.Context, workerID string, task *models.Task, wt *models.Worktree, tracker *tokens.Tracker) *models.WorkerResult {
	for {
		w := worker.New(workerID, task, wt, e.runner, e.git, e.lock, e.emitter, e.render, tracker,
			e.cfg.Worker, e.cfg.RateLimit, e.primary, e.fallbacks)
		w.SetCancelCheck(e.isCancelled)

		result := w.Run(ctx, e.tracker.IsTaskReady)

		if result.Error == nil || result.Success {
			return result
		}
		if e.isCancelled() {
			return result
		}

		resp, escalated := e.maybeEscalate(ctx, task, result)
		if !escalated {
			return result
		}
		switch resp.Action {
		case escalation.ActionRetry:
			continue
		case escalation.ActionAbort:
			e.Cancel()
			return result
		default: // ActionSkip, ActionManualFix
			return result
		}
	}
}

// maybeEscalate raises an escalation request when a worker ends with an
// error without completing the task (spec.md §12 supplemented
// escalation path). Without any goroutine calling RespondToEscalation,
// this simply blocks until the handler's timeout elapses and defaults
// to skip — callers that want a human in the loop answer it via
// Escalation().RespondToEscalation from another goroutine. The second
// return value is false when escalation is disabled, in which case resp
// is the zero value and must not be acted on.
func (e *Executor) maybeEscalate(ctx context.Context, task *models.Task, result *models.WorkerResult) (escalation.Response, bool) {
	if e.escalate == nil || !e.escalationEnabled {
		return escalation.Response{}, false
	}
	resp := e.escalate.RequestEscalation(ctx, escalation.Request{
		Task:         task,
		Result:       result,
		Reason:       "worker exhausted retry budget",
		WorktreePath: result.WorktreePath,
	})
	return resp, true
}

// Escalation exposes the escalation handler so a caller (e.g. the demo
// CLI or an interactive frontend) can answer pending escalations rather
// than waiting for the default timeout.
func (e *Executor) Escalation() *escalation.Handler {
	return e.escalate
}

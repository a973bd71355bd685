// Package worker implements the per-task worker state machine of
// spec.md §4.6: created -> initializing -> running -> (committing |
// merged | failed | cancelled), iterating against an injected
// AgentRunner until a completion marker is observed or the iteration
// budget is exhausted.
package worker

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/commitlock"
	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/gitutil"
	"github.com/ralph-tui/ralph-tui/internal/tokens"
	"github.com/ralph-tui/ralph-tui/pkg/core"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// CompletionMarker is the exact byte sequence an agent emits to signal
// it believes the task is done (spec.md §4.6 step 4).
const CompletionMarker = "<promise>COMPLETE</promise>"

// ErrorStrategy is the worker's response to a non-zero exit or timeout.
type ErrorStrategy string

const (
	StrategySkip  ErrorStrategy = "skip"
	StrategyRetry ErrorStrategy = "retry"
	StrategyAbort ErrorStrategy = "abort"
)

// PromptRenderer renders the prompt for one iteration of a task, given
// whatever graph context the caller wants to supply. Rendering is kept
// external to the worker, matching spec.md §4.6 step 1.
type PromptRenderer func(task *models.Task, iteration int) string

// AgentConfig names a single configured agent (primary or fallback) by
// model identifier.
type AgentConfig struct {
	Name  string
	Model string
}

// Worker runs one task's iteration loop inside a dedicated worktree.
type Worker struct {
	ID       string
	Task     *models.Task
	Worktree *models.Worktree

	runner   core.AgentRunner
	git      gitutil.Git
	lock     *commitlock.Lock
	emitter  *core.Emitter
	render   PromptRenderer
	tracker  *tokens.Tracker
	cfg      config.WorkerConfig
	rlCfg    config.RateLimitConfig

	primary    AgentConfig
	fallbacks  []AgentConfig
	active     int // index into fallbacks, -1 means primary
	limitedAt  map[string]time.Time

	cancelled func() bool
}

// New builds a Worker for task inside wt, driven by runner and guarded
// by commit lock. render must not be nil.
func New(id string, task *models.Task, wt *models.Worktree, runner core.AgentRunner, git gitutil.Git, lock *commitlock.Lock, emitter *core.Emitter, render PromptRenderer, tracker *tokens.Tracker, cfg config.WorkerConfig, rlCfg config.RateLimitConfig, primary AgentConfig, fallbacks []AgentConfig) *Worker {
	return &Worker{
		ID:        id,
		Task:      task,
		Worktree:  wt,
		runner:    runner,
		git:       git,
		lock:      lock,
		emitter:   emitter,
		render:    render,
		tracker:   tracker,
		cfg:       cfg,
		rlCfg:     rlCfg,
		primary:   primary,
		fallbacks: fallbacks,
		active:    -1,
		limitedAt: make(map[string]time.Time),
		cancelled: func() bool { return false },
	}
}

// SetCancelCheck installs the function the worker polls before each
// iteration and before each subprocess spawn (spec.md §5 cancellation).
func (w *Worker) SetCancelCheck(fn func() bool) {
	if fn != nil {
		w.cancelled = fn
	}
}

// Run drives the iteration loop until completion, the iteration budget
// is exhausted, or an abort/cancellation occurs. isTaskReady is called
// after a completion marker is observed to confirm the tracker agrees
// the task can close (spec.md §4.6 step 7).
func (w *Worker) Run(ctx context.Context, isTaskReady func(ctx context.Context, taskID string) (bool, error)) *models.WorkerResult {
	start := time.Now()
	result := &models.WorkerResult{Task: w.Task, WorktreePath: w.Worktree.Path, Branch: w.Worktree.Branch, StartedAt: start}

	w.emit(core.EventWorkerCreated, "")
	w.emit(core.EventWorkerStarted, "")

	iteration := 0
	retries := 0
	for {
		if w.cancelled() {
			result.Error = errCancelled
			w.finish(result, start)
			return result
		}
		if w.cfg.MaxIterations > 0 && iteration >= w.cfg.MaxIterations {
			break
		}
		iteration++

		if w.cfg.RecoverPrimaryBetweenIterations {
			w.maybeRecoverPrimary()
		}

		agentCfg := w.activeAgent()
		prompt := w.render(w.Task, iteration)

		if w.cancelled() {
			result.Error = errCancelled
			w.finish(result, start)
			return result
		}

		runRes, err := w.runner.Run(ctx, core.AgentRunRequest{
			Prompt:  prompt,
			Cwd:     w.Worktree.Path,
			Model:   agentCfg.Model,
			Timeout: w.cfg.AgentTimeout,
		})

		result.IterationsRun = iteration

		if err != nil || runRes.RateLimited {
			if runRes.RateLimited {
				w.onRateLimit(agentCfg)
				continue
			}
			strategy := w.errorStrategy(retries)
			switch strategy {
			case StrategyRetry:
				retries++
				time.Sleep(w.cfg.RetryDelay)
				continue
			case StrategySkip:
				result.Error = err
				w.finish(result, start)
				return result
			default: // abort
				result.Error = err
				w.finish(result, start)
				return result
			}
		}
		retries = 0

		for _, line := range strings.Split(runRes.Stdout, "\n") {
			if w.tracker != nil {
				w.tracker.AddLine(line)
			}
		}
		if runRes.TokenUsage != nil && w.tracker != nil {
			w.tracker.Add(*runRes.TokenUsage)
		}

		if strings.Contains(runRes.Stdout, CompletionMarker) {
			ready := true
			if isTaskReady != nil {
				ready, _ = isTaskReady(ctx, w.Task.ID)
			}
			if ready {
				result.TaskCompleted = true
				break
			}
		}
	}

	if w.cfg.AutoCommit {
		if err := w.commitIfDirty(ctx, iteration); err != nil {
			result.Error = err
			w.finish(result, start)
			return result
		}
	}

	result.Success = true
	if w.tracker != nil {
		result.TokenUsage = w.tracker.Usage()
	}
	w.finish(result, start)
	return result
}

var errCancelled = &cancelErr{}

type cancelErr struct{}

func (*cancelErr) Error() string { return "worker: cancelled" }

func (w *Worker) finish(result *models.WorkerResult, start time.Time) {
	result.FinishedAt = time.Now()
	result.DurationMs = result.FinishedAt.Sub(start).Milliseconds()
	if result.Success {
		w.emit(core.EventWorkerCompleted, "")
	} else {
		w.emit(core.EventWorkerFailed, "")
	}
}

func (w *Worker) emit(t core.EventType, msg string) {
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(core.Event{Type: t, WorkerID: w.ID, TaskID: w.Task.ID, TaskTitle: w.Task.Title, Message: msg})
}

// activeAgent returns the primary agent, unless the primary is
// currently cooling down from a rate-limit signal, in which case the
// first available fallback.
func (w *Worker) activeAgent() AgentConfig {
	if w.active >= 0 && w.active < len(w.fallbacks) {
		return w.fallbacks[w.active]
	}
	if at, cooling := w.limitedAt[w.primary.Name]; cooling && time.Since(at) < w.cfg.RetryDelay {
		if len(w.fallbacks) > 0 {
			w.active = 0
			return w.fallbacks[0]
		}
	}
	return w.primary
}

// onRateLimit records the limited timestamp, sleeps BaseBackoff*Factor
// (scaled by up to ±JitterFrac), and switches to a fallback if one is
// configured. The delay is the same on every rate-limit signal; it does
// not grow with repeated signals.
func (w *Worker) onRateLimit(agentCfg AgentConfig) {
	w.limitedAt[agentCfg.Name] = time.Now()

	backoff := w.rlCfg.BaseBackoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	factor := w.rlCfg.Factor
	if factor <= 1.0 {
		factor = 2.0
	}
	jitterFrac := w.rlCfg.JitterFrac

	delay := time.Duration(float64(backoff) * factorPow(factor, 1))
	if jitterFrac > 0 {
		jitter := (rand.Float64()*2 - 1) * jitterFrac
		delay = time.Duration(float64(delay) * (1 + jitter))
	}
	time.Sleep(delay)

	if agentCfg.Name == w.primary.Name && len(w.fallbacks) > 0 {
		w.active = 0
	}
}

func factorPow(factor float64, n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= factor
	}
	return result
}

// maybeRecoverPrimary switches back to the primary agent once its
// cool-down has elapsed, checked at the start of each iteration.
func (w *Worker) maybeRecoverPrimary() {
	at, cooling := w.limitedAt[w.primary.Name]
	if !cooling {
		return
	}
	if time.Since(at) >= w.cfg.RetryDelay {
		w.active = -1
		delete(w.limitedAt, w.primary.Name)
	}
}

// errorStrategy picks the error-handling strategy for the current
// attempt count: retry up to MaxRetries, then fall back to the
// configured terminal strategy, skip or abort (spec.md §4.6 step 6).
func (w *Worker) errorStrategy(retries int) ErrorStrategy {
	if retries < w.cfg.MaxRetries {
		return StrategyRetry
	}
	switch ErrorStrategy(w.cfg.ErrorStrategy) {
	case StrategySkip:
		return StrategySkip
	default:
		return StrategyAbort
	}
}

// commitIfDirty stages and commits under the commit lock if the
// worktree has uncommitted changes (spec.md §4.6 step 8).
func (w *Worker) commitIfDirty(ctx context.Context, iteration int) error {
	dirty, err := w.git.HasUncommittedChanges(ctx)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	release, err := w.lock.Acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := w.git.AddAll(ctx); err != nil {
		return err
	}
	msg := commitMessage(w.Task, iteration)
	return w.git.Commit(ctx, msg)
}

func commitMessage(task *models.Task, iteration int) string {
	return "feat(ralph): " + task.ID + " - " + task.SingleLineTitle() +
		"\n\nIteration: " + strconv.Itoa(iteration) + "\nAgent: ralph-tui"
}

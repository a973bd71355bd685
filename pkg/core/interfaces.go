// Package core defines the two capability interfaces the orchestration
// core is injected with — Tracker and AgentRunner — plus the typed event
// union the core emits to any observer. Pluggability is achieved purely by
// passing values satisfying these interfaces to the executor; no
// metaprogramming is involved (spec.md §9).
package core

import (
	"context"
	"time"

	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// TaskFilter narrows the set of tasks a Tracker returns. A nil filter
// means "all tasks".
type TaskFilter struct {
	Status []models.TaskStatus
	Epic   string
}

// CompleteTaskResult is the outcome of Tracker.CompleteTask.
type CompleteTaskResult struct {
	Success bool
	Message string
}

// Tracker is the external task source and sink. The core only mutates
// tracker-owned task state through CompleteTask.
type Tracker interface {
	GetTasks(ctx context.Context, filter *TaskFilter) ([]*models.Task, error)
	CompleteTask(ctx context.Context, id string) (CompleteTaskResult, error)
	IsTaskReady(ctx context.Context, id string) (bool, error)
}

// AgentRunRequest is the input to one AgentRunner.Run call.
type AgentRunRequest struct {
	Prompt  string
	Cwd     string
	Model   string
	Timeout time.Duration
	Env     map[string]string
	Stdin   string
}

// AgentRunResult is the output of one AgentRunner.Run call.
type AgentRunResult struct {
	ExitCode    int
	Stdout      string
	Stderr      string
	TokenUsage  *models.TokenUsage
	RateLimited bool
}

// AgentRunner is the injected capability that actually invokes an LLM
// coding agent. A result with RateLimited:true triggers the rate-limit
// path in the worker (spec.md §4.6 step 5); the core never talks to a
// model provider directly.
type AgentRunner interface {
	Run(ctx context.Context, req AgentRunRequest) (AgentRunResult, error)
}

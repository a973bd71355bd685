package models

import "time"

// WorkerResult is the outcome of a single worker's run against one task.
type WorkerResult struct {
	Task          *Task
	Success       bool
	TaskCompleted bool
	WorktreePath  string
	Branch        string
	IterationsRun int
	DurationMs    int64
	CommitCount   int
	TokenUsage    TokenUsage
	Error         error
	StartedAt     time.Time
	FinishedAt    time.Time
}

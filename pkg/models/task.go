// Package models holds the value types shared across the orchestration
// core: tasks, derived graph nodes, parallel groups, worktrees, and the
// results that flow between workers, the merge engine, and the session
// store.
package models

import "strings"

// TaskStatus is the tracker-owned lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Valid returns true if s is a known status value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task is an immutable input from the tracker. The core never mutates a
// Task; only the tracker may change persistent task state, and only via
// completeTask(id).
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	// Priority ranges 0..4, 0 highest.
	Priority int `json:"priority"`
	// DependsOn holds task ids that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Type      string   `json:"type,omitempty"`
	Epic      string   `json:"epic,omitempty"`
}

// Actionable reports whether t is eligible for scheduling: open or
// in-progress, independent of dependency satisfaction.
func (t *Task) Actionable() bool {
	return t.Status == TaskStatusOpen || t.Status == TaskStatusInProgress
}

// SingleLineTitle returns t.Title with embedded newlines replaced by
// spaces, so it is safe to interpolate into a commit message or any
// other single-line context (spec.md §6: "Titles are single-line
// (newlines replaced with spaces)").
func (t *Task) SingleLineTitle() string {
	return strings.ReplaceAll(t.Title, "\n", " ")
}

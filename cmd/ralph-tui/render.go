package main

import (
	"fmt"
	"strings"

	"github.com/ralph-tui/ralph-tui/internal/worker"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// renderPrompt is the reference worker.PromptRenderer: the task's title
// and description, its declared dependencies for context, and the exact
// completion marker the worker scans stdout for (spec.md §4.6 step 4).
func renderPrompt(task *models.Task, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}
	if len(task.DependsOn) > 0 {
		fmt.Fprintf(&b, "\nDepends on (already merged): %s\n", strings.Join(task.DependsOn, ", "))
	}
	if iteration > 1 {
		fmt.Fprintf(&b, "\nThis is iteration %d against the same worktree: continue from your prior changes, don't restart.\n", iteration)
	}
	fmt.Fprintf(&b, "\nWhen the task is fully complete, emit exactly: %s\n", worker.CompletionMarker)
	return b.String()
}

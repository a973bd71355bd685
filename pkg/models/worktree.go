package models

import "time"

// Worktree is an isolated working copy of the repository bound to a
// branch, used by exactly one live worker at a time.
type Worktree struct {
	ID        string
	Path      string
	Branch    string
	TaskID    string
	CreatedAt time.Time
}

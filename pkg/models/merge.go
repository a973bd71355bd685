package models

import "time"

// MergeStatus is the state-machine status of a MergeOperation.
type MergeStatus string

const (
	MergeStatusQueued      MergeStatus = "queued"
	MergeStatusInProgress  MergeStatus = "in-progress"
	MergeStatusCompleted   MergeStatus = "completed"
	MergeStatusConflicted  MergeStatus = "conflicted"
	MergeStatusFailed      MergeStatus = "failed"
	MergeStatusRolledBack  MergeStatus = "rolled-back"
)

// MergeOperation describes one worker branch's trip through the serialized
// merge queue into the session branch.
type MergeOperation struct {
	ID             string
	WorkerResult   *WorkerResult
	SourceBranch   string
	TargetBranch   string
	CommitMessage  string
	BackupTag      string
	Status         MergeStatus
	ConflictedFiles []string
	QueuedAt       time.Time
	CompletedAt    *time.Time
}

// FileConflict is the three-way conflict state for a single path: the
// merge-base content, the session branch's content ("ours"), the worker
// branch's content ("theirs"), and the raw working-tree blob with conflict
// markers.
type FileConflict struct {
	FilePath    string
	Base        string
	Ours        string
	Theirs      string
	MarkersBlob string
}

// ConflictResolutionMethod records how a FileConflict was resolved.
type ConflictResolutionMethod string

const (
	ResolutionMethodAI     ConflictResolutionMethod = "ai"
	ResolutionMethodManual ConflictResolutionMethod = "manual"
)

// ConflictResolutionResult is the outcome of resolving one FileConflict.
type ConflictResolutionResult struct {
	FilePath        string
	Success         bool
	Method          ConflictResolutionMethod
	ResolvedContent string
	Error           error
}

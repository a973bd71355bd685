package core

import "time"

// EventType is one member of the typed event union from spec.md §6:
// worker:{...}, merge:{...}, conflict:{...}, parallel:{...}.
type EventType string

const (
	EventWorkerCreated   EventType = "worker:created"
	EventWorkerStarted   EventType = "worker:started"
	EventWorkerProgress  EventType = "worker:progress"
	EventWorkerCompleted EventType = "worker:completed"
	EventWorkerFailed    EventType = "worker:failed"
	EventWorkerOutput    EventType = "worker:output"

	EventMergeQueued     EventType = "merge:queued"
	EventMergeStarted    EventType = "merge:started"
	EventMergeCompleted  EventType = "merge:completed"
	EventMergeFailed     EventType = "merge:failed"
	EventMergeRolledBack EventType = "merge:rolled-back"

	EventConflictDetected   EventType = "conflict:detected"
	EventConflictAIResolving EventType = "conflict:ai-resolving"
	EventConflictAIResolved  EventType = "conflict:ai-resolved"
	EventConflictAIFailed    EventType = "conflict:ai-failed"
	EventConflictResolved    EventType = "conflict:resolved"

	EventParallelStarted            EventType = "parallel:started"
	EventParallelSessionBranchCreated EventType = "parallel:session-branch-created"
	EventParallelGroupStarted       EventType = "parallel:group-started"
	EventParallelGroupCompleted     EventType = "parallel:group-completed"
	EventParallelCompleted          EventType = "parallel:completed"
	EventParallelFailed             EventType = "parallel:failed"
)

// Event is emitted for every state transition the core makes. Every event
// carries an ISO-8601 timestamp and whichever correlation ids apply.
type Event struct {
	Type          EventType
	Timestamp     time.Time
	SessionID     string
	WorkerID      string
	OperationID   string
	TaskID        string
	TaskTitle     string
	Message       string
	Error         error
	Reason        string
	ConflictFiles []string
}

// Emitter is a thread-safe, non-blocking publisher of Events. Sends never
// block the caller: a full buffer silently drops the event, matching the
// reference event-emitter's policy (observability must never throttle the
// orchestration core).
type Emitter struct {
	events chan Event
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	return &Emitter{events: make(chan Event, bufferSize)}
}

// Emit sends ev, dropping it if the buffer is full.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.events <- ev:
	default:
	}
}

// Events returns a read-only channel of emitted events.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the underlying channel. Callers must stop emitting before
// calling Close.
func (e *Emitter) Close() {
	close(e.events)
}

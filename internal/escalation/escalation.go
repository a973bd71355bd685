// Package escalation implements the human-in-the-loop path for a worker
// that has exhausted its retry budget. This supplements spec.md's
// described error-handling strategies (skip, retry-up-to-N, abort) with
// a pause/resume channel the executor can wait on, letting a caller
// make the final call instead of forcing a hardcoded default.
package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// Action is the decision returned for an escalated worker failure.
type Action string

const (
	ActionRetry     Action = "retry"
	ActionSkip      Action = "skip"
	ActionAbort     Action = "abort"
	ActionManualFix Action = "manual_fix"
)

// Request describes one worker's failure that has exhausted its
// configured retry budget and needs an external decision.
type Request struct {
	Task         *models.Task
	Result       *models.WorkerResult
	Attempts     int
	Reason       string
	WorktreePath string
}

// Response is the caller's decision for a Request.
type Response struct {
	Action    Action
	Message   string
	Timestamp time.Time
}

// DefaultTimeout bounds how long RequestEscalation waits for a response
// before defaulting to ActionSkip: a stuck executor should not block a
// whole session on an absent operator.
const DefaultTimeout = 30 * time.Minute

// Handler coordinates at most one outstanding escalation at a time.
type Handler struct {
	mu         sync.Mutex
	pending    *Request
	responseCh chan Response
	timeout    time.Duration
}

// New builds a Handler using the given response timeout (DefaultTimeout
// if zero).
func New(timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Handler{timeout: timeout}
}

// NeedsEscalation reports whether a worker result should be escalated:
// it failed to complete the task and has used up its retry budget.
func NeedsEscalation(result *models.WorkerResult, attempts, maxRetries int) bool {
	if result.Success && result.TaskCompleted {
		return false
	}
	return attempts >= maxRetries
}

// RequestEscalation records req as the pending escalation and blocks
// until RespondToEscalation is called, ctx is cancelled, or the
// handler's timeout elapses (in which case it returns ActionSkip: an
// unanswered escalation should not silently abort the whole session).
func (h *Handler) RequestEscalation(ctx context.Context, req Request) Response {
	h.mu.Lock()
	h.pending = &req
	h.responseCh = make(chan Response, 1)
	ch := h.responseCh
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.pending = nil
		h.mu.Unlock()
	}()

	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		return Response{Action: ActionAbort, Message: "context cancelled", Timestamp: time.Now()}
	case <-time.After(h.timeout):
		return Response{Action: ActionSkip, Message: "escalation timed out, defaulting to skip", Timestamp: time.Now()}
	}
}

// Pending returns the currently outstanding request, or nil if none.
func (h *Handler) Pending() *Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending
}

// RespondToEscalation delivers resp to whichever goroutine is blocked in
// RequestEscalation. It is a no-op if there is no pending escalation.
func (h *Handler) RespondToEscalation(resp Response) {
	h.mu.Lock()
	ch := h.responseCh
	h.mu.Unlock()
	if ch == nil {
		return
	}
	resp.Timestamp = time.Now()
	select {
	case ch <- resp:
	default:
	}
}

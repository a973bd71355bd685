// Package budget guards total token consumption across a session
// against a configured ceiling, using internal/tokens.AggregateTracker
// as its usage source (supplementing spec.md §5's resource model with a
// graceful wind-down instead of an abrupt stop).
package budget

import (
	"sync"

	"github.com/ralph-tui/ralph-tui/internal/tokens"
)

// Status is the current state of budget consumption.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// DefaultWarningThreshold is the usage fraction at which Status flips to
// StatusWarning.
const DefaultWarningThreshold = 0.80

// Handler monitors total token usage against a budget and triggers a
// one-shot callback on exhaustion.
type Handler struct {
	mu               sync.RWMutex
	budget           int64
	tracker          *tokens.AggregateTracker
	warningThreshold float64
	exhausted        bool
	onExhausted      func()
}

// New builds a Handler for the given token budget (0 = unlimited, every
// check reports StatusOK) against tracker.
func New(budgetTokens int64, tracker *tokens.AggregateTracker) *Handler {
	return &Handler{
		budget:           budgetTokens,
		tracker:          tracker,
		warningThreshold: DefaultWarningThreshold,
	}
}

// SetWarningThreshold overrides the default 80% warning threshold.
func (h *Handler) SetWarningThreshold(frac float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.warningThreshold = frac
}

// OnExhausted registers a callback invoked exactly once, the first time
// CheckBudget observes StatusExhausted.
func (h *Handler) OnExhausted(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onExhausted = fn
}

// CheckBudget reads current usage from the tracker and returns the
// corresponding Status, firing the exhaustion callback on first crossing.
func (h *Handler) CheckBudget() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.budget <= 0 {
		return StatusOK
	}
	used := h.tracker.TotalUsage().TotalTokens
	frac := float64(used) / float64(h.budget)

	var status Status
	switch {
	case frac >= 1.0:
		status = StatusExhausted
	case frac >= h.warningThreshold:
		status = StatusWarning
	default:
		status = StatusOK
	}

	if status == StatusExhausted && !h.exhausted {
		h.exhausted = true
		if h.onExhausted != nil {
			h.onExhausted()
		}
	}
	return status
}

// CanStartNew reports whether a new worker may be spawned: the budget is
// not exhausted.
func (h *Handler) CanStartNew() bool {
	return h.CheckBudget() != StatusExhausted
}

// IsExhausted reports whether the budget has ever crossed 100% usage.
func (h *Handler) IsExhausted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exhausted
}

// Usage returns (used, budget); budget is 0 when unlimited.
func (h *Handler) Usage() (int64, int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tracker.TotalUsage().TotalTokens, h.budget
}

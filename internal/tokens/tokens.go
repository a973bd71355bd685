// Package tokens implements the token/cost accumulator of spec.md §4.13:
// it parses an agent's stdout as line-delimited JSON where possible,
// extracts cumulative usage from known payload shapes, and optionally
// prices it against a model->rate map.
package tokens

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// contextWindowAdvisoryFloor is the threshold above which a max_tokens
// field is treated as a context-window advisory rather than a usage
// count, per spec.md §4.13.
const contextWindowAdvisoryFloor = 100_000

// usagePayload covers the known shapes a line of agent stdout's usage
// object can take across providers: turn.completed.usage,
// result.stats, and a bare top-level usage object.
type usagePayload struct {
	Usage *rawUsage `json:"usage"`
	Type  string    `json:"type"`

	Turn *struct {
		Usage *rawUsage `json:"usage"`
	} `json:"turn"`

	Result *struct {
		Stats *rawUsage `json:"stats"`
	} `json:"result"`

	rawUsage
}

type rawUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
	MaxTokens    int64 `json:"max_tokens"`
}

// ParseLine attempts to extract a usage delta from one line of agent
// stdout. ok is false when the line is not JSON or carries no
// recognized usage shape.
func ParseLine(line string) (usage models.TokenUsage, advisory bool, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return models.TokenUsage{}, false, false
	}

	var p usagePayload
	if err := json.Unmarshal([]byte(line), &p); err != nil {
		return models.TokenUsage{}, false, false
	}

	var raw *rawUsage
	switch {
	case p.Usage != nil:
		raw = p.Usage
	case p.Turn != nil && p.Turn.Usage != nil:
		raw = p.Turn.Usage
	case p.Result != nil && p.Result.Stats != nil:
		raw = p.Result.Stats
	case p.InputTokens != 0 || p.OutputTokens != 0 || p.TotalTokens != 0:
		raw = &p.rawUsage
	default:
		return models.TokenUsage{}, false, false
	}

	if raw.MaxTokens >= contextWindowAdvisoryFloor {
		return models.TokenUsage{}, true, true
	}

	total := raw.TotalTokens
	if total == 0 {
		total = raw.InputTokens + raw.OutputTokens
	}
	return models.TokenUsage{
		InputTokens:  raw.InputTokens,
		OutputTokens: raw.OutputTokens,
		TotalTokens:  total,
	}, false, true
}

// Tracker accumulates token usage for a single worker's agent runs and
// computes a dollar cost when pricing is available.
type Tracker struct {
	mu      sync.Mutex
	model   string
	pricing map[string]config.ModelPricing
	usage   models.TokenUsage
}

// NewTracker builds a Tracker for model, priced against the given map
// (which may be nil, in which case only token counts are tracked).
func NewTracker(model string, pricing map[string]config.ModelPricing) *Tracker {
	return &Tracker{model: model, pricing: pricing}
}

// AddLine parses one line of agent stdout and folds any usage it
// contains into the running total. It is a no-op for lines without a
// recognized usage shape or that are context-window advisories.
func (t *Tracker) AddLine(line string) {
	usage, advisory, ok := ParseLine(line)
	if !ok || advisory {
		return
	}
	t.Add(usage)
}

// Add folds usage directly into the running total.
func (t *Tracker) Add(usage models.TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = t.usage.Add(usage)
}

// Usage returns the accumulated token counts.
func (t *Tracker) Usage() models.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// CostUSD returns the dollar cost of the accumulated usage, or (0,
// false) if no pricing entry matches t.model.
func (t *Tracker) CostUSD() (float64, bool) {
	t.mu.Lock()
	usage := t.usage
	t.mu.Unlock()

	rate, ok := lookupPricing(t.pricing, t.model)
	if !ok {
		return 0, false
	}
	cost := float64(usage.InputTokens)/1_000_000*rate.InputPerMillion +
		float64(usage.OutputTokens)/1_000_000*rate.OutputPerMillion
	return cost, true
}

// lookupPricing resolves a model's rate by exact match, then falling
// back to a substring match on the model identifier, per spec.md §4.13.
func lookupPricing(pricing map[string]config.ModelPricing, model string) (config.ModelPricing, bool) {
	if pricing == nil {
		return config.ModelPricing{}, false
	}
	if rate, ok := pricing[model]; ok {
		return rate, true
	}
	for name, rate := range pricing {
		if strings.Contains(model, name) || strings.Contains(name, model) {
			return rate, true
		}
	}
	return config.ModelPricing{}, false
}

// AggregateTracker combines per-worker Trackers into session-wide totals.
type AggregateTracker struct {
	mu       sync.Mutex
	trackers map[string]*Tracker // keyed by worker id
}

// NewAggregateTracker builds an empty AggregateTracker.
func NewAggregateTracker() *AggregateTracker {
	return &AggregateTracker{trackers: make(map[string]*Tracker)}
}

// Register associates a worker id with its Tracker so it contributes to
// aggregate totals.
func (a *AggregateTracker) Register(workerID string, t *Tracker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trackers[workerID] = t
}

// TotalUsage sums token usage across every registered worker.
func (a *AggregateTracker) TotalUsage() models.TokenUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total models.TokenUsage
	for _, t := range a.trackers {
		total = total.Add(t.Usage())
	}
	return total
}

// TotalCostUSD sums dollar cost across every registered worker that has
// a resolvable pricing entry; workers without one are skipped rather
// than treated as zero cost, since their true cost is unknown.
func (a *AggregateTracker) TotalCostUSD() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total float64
	for _, t := range a.trackers {
		if cost, ok := t.CostUSD(); ok {
			total += cost
		}
	}
	return total
}

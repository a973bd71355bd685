package claudeapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ralph-tui/ralph-tui/pkg/core"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// maxTokens bounds a single completion. The worker's own iteration
// budget (spec.md §4.6) is what actually limits total agent spend, not
// this per-call ceiling.
const maxTokens = 8192

// Runner implements core.AgentRunner as a single-turn call to the
// Messages API per iteration: req.Prompt becomes the user message,
// and the response text is returned as Stdout, the same contract the
// worker already expects from a subprocess-based agent (it scans
// Stdout for worker.CompletionMarker).
type Runner struct {
	client *Client
}

// NewRunner builds a Runner against client.
func NewRunner(client *Client) *Runner {
	return &Runner{client: client}
}

// Run sends req.Prompt as a single user turn and returns the
// concatenated text content as Stdout. A rate-limit error from the SDK
// (HTTP 429, or an overloaded or rate-limit message) is surfaced as RateLimited:true rather than a hard error,
// matching spec.md §9's requirement that the rate-limit signal come
// from the agent plugin, not a generic transport failure.
func (r *Runner) Run(ctx context.Context, req core.AgentRunRequest) (core.AgentRunResult, error) {
	model := r.client.Model(req.Model)

	resp, err := r.client.sdk().Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		if isRateLimitErr(err) {
			return core.AgentRunResult{RateLimited: true}, nil
		}
		return core.AgentRunResult{}, fmt.Errorf("claudeapi: messages.new: %w", err)
	}

	usage := models.TokenUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	return core.AgentRunResult{
		ExitCode:   0,
		Stdout:     textContent(resp.Content),
		TokenUsage: &usage,
	}, nil
}

// isRateLimitErr reports whether err represents an HTTP 429 response or
// an overloaded/rate-limit message from the API.
// The SDK wraps transport errors in its own error type, whose string
// form carries the status line; matching on that text is more durable
// across SDK versions than asserting on an internal error type.
func isRateLimitErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "overloaded")
}

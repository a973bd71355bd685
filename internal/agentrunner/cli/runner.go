// Package cli implements core.AgentRunner by spawning the configured
// coding-agent CLI (e.g. `claude`) as a subprocess, exactly as
// spec.md §4.1/§9 describes the default agent plugin: stream-json
// output, a fixed allow-listed tool set, and a rate-limit/completion
// signal detected from the captured stdout/stderr rather than from an
// API response envelope.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/ralph-tui/ralph-tui/internal/procrunner"
	"github.com/ralph-tui/ralph-tui/internal/tokens"
	"github.com/ralph-tui/ralph-tui/pkg/core"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// DefaultBinary is the CLI invoked when Runner.Binary is empty.
const DefaultBinary = "claude"

// DefaultAllowedTools matches the teacher's conservative default tool
// allow-list: enough for a coding agent to read, write, and run tests
// without prompting, while leaving project-level settings free to deny
// specific patterns.
var DefaultAllowedTools = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep", "WebFetch"}

// rateLimitMarkers are substrings observed in the CLI's stdout/stderr
// when the provider throttles a request. Matching is deliberately
// loose: a false positive just costs one extra backoff cycle, while a
// false negative would be treated as a hard failure.
var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"429",
	"usage limit reached",
	"please try again later",
}

// Runner spawns the CLI agent via procrunner, parses its line-delimited
// stdout for token usage, and maps its exit behavior onto
// core.AgentRunResult.
type Runner struct {
	Binary        string
	AllowedTools  []string
	ProcessRunner procrunner.Runner
}

// New builds a Runner using the production ExecRunner.
func New() *Runner {
	return &Runner{ProcessRunner: procrunner.NewExecRunner()}
}

// Run invokes the CLI agent for one iteration (spec.md §4.6 step 3).
func (r *Runner) Run(ctx context.Context, req core.AgentRunRequest) (core.AgentRunResult, error) {
	binary := r.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	tools := r.AllowedTools
	if tools == nil {
		tools = DefaultAllowedTools
	}

	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
		"--allowedTools", strings.Join(tools, ","),
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, "-p", req.Prompt)

	runner := r.ProcessRunner
	if runner == nil {
		runner = procrunner.NewExecRunner()
	}

	var env []string
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	res, err := runner.Run(ctx, binary, args, procrunner.Options{
		Cwd:     req.Cwd,
		Env:     env,
		Stdin:   req.Stdin,
		Timeout: req.Timeout,
	})
	if err != nil {
		return core.AgentRunResult{}, fmt.Errorf("running %s: %w", binary, err)
	}

	result := core.AgentRunResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}

	if looksRateLimited(res.Stdout) || looksRateLimited(res.Stderr) {
		result.RateLimited = true
		return result, nil
	}

	usage := accumulateUsage(res.Stdout)
	if usage != (models.TokenUsage{}) {
		result.TokenUsage = &usage
	}
	return result, nil
}

func accumulateUsage(stdout string) models.TokenUsage {
	var total models.TokenUsage
	for _, line := range strings.Split(stdout, "\n") {
		usage, advisory, ok := tokens.ParseLine(line)
		if !ok || advisory {
			continue
		}
		total = total.Add(usage)
	}
	return total
}

func looksRateLimited(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

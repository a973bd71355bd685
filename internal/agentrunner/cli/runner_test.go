package cli

import (
	"context"
	"testing"

	"github.com/ralph-tui/ralph-tui/internal/procrunner"
	"github.com/ralph-tui/ralph-tui/pkg/core"
)

type fakeProcRunner struct {
	lastName string
	lastArgs []string
	result   procrunner.Result
	err      error
}

func (f *fakeProcRunner) Run(ctx context.Context, name string, args []string, opts procrunner.Options) (procrunner.Result, error) {
	f.lastName = name
	f.lastArgs = args
	return f.result, f.err
}

func TestRunBuildsExpectedArgs(t *testing.T) {
	fp := &fakeProcRunner{result: procrunner.Result{ExitCode: 0, Stdout: "ok"}}
	r := &Runner{ProcessRunner: fp}

	_, err := r.Run(context.Background(), core.AgentRunRequest{Prompt: "do the thing", Model: "claude-sonnet"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fp.lastName != DefaultBinary {
		t.Errorf("binary = %q, want %q", fp.lastName, DefaultBinary)
	}
	wantTail := []string{"--model", "claude-sonnet", "-p", "do the thing"}
	got := fp.lastArgs[len(fp.lastArgs)-len(wantTail):]
	for i, w := range wantTail {
		if got[i] != w {
			t.Errorf("args tail = %v, want %v", got, wantTail)
		}
	}
}

func TestRunDetectsRateLimit(t *testing.T) {
	fp := &fakeProcRunner{result: procrunner.Result{ExitCode: 1, Stderr: "Error: rate limit exceeded, please try again later"}}
	r := &Runner{ProcessRunner: fp}

	res, err := r.Run(context.Background(), core.AgentRunRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.RateLimited {
		t.Error("expected RateLimited=true")
	}
}

func TestRunParsesTokenUsage(t *testing.T) {
	fp := &fakeProcRunner{result: procrunner.Result{
		ExitCode: 0,
		Stdout:   `{"type":"result","usage":{"input_tokens":10,"output_tokens":5,"total_tokens":15}}`,
	}}
	r := &Runner{ProcessRunner: fp}

	res, err := r.Run(context.Background(), core.AgentRunRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TokenUsage == nil || res.TokenUsage.TotalTokens != 15 {
		t.Errorf("TokenUsage = %+v, want total 15", res.TokenUsage)
	}
}

package gitutil

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/gitref"
	"github.com/ralph-tui/ralph-tui/internal/procrunner"
)

// DefaultTimeout is applied to every git invocation unless overridden.
const DefaultTimeout = 60 * time.Second

// Client is the production Git implementation, running `git -C <cwd>
// <args...>` through procrunner with piped stdio (it never inherits the
// caller's terminal).
type Client struct {
	cwd     string
	runner  procrunner.Runner
	timeout time.Duration
}

// NewClient builds a Client rooted at cwd using the default process
// runner and timeout.
func NewClient(cwd string) *Client {
	return NewClientWithRunner(cwd, procrunner.NewExecRunner())
}

// NewClientWithRunner builds a Client with an injected procrunner.Runner,
// for testing against a fake.
func NewClientWithRunner(cwd string, runner procrunner.Runner) *Client {
	return &Client{cwd: cwd, runner: runner, timeout: DefaultTimeout}
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", c.cwd}, args...)
	res, err := c.runner.Run(ctx, "git", fullArgs, procrunner.Options{
		Timeout: c.timeout,
	})
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	if !res.Success {
		return res.Stdout, fmt.Errorf("git %s: exit %d: %s", strings.Join(args, " "), res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

func validateRef(ref string) error {
	if ref == "" {
		return nil
	}
	if err := gitref.Validate(ref); err != nil {
		return fmt.Errorf("%w: %s", gitref.ErrInvalidRef, ref)
	}
	return nil
}

func (c *Client) WorktreeAdd(ctx context.Context, path, branch, from string) error {
	if err := validateRef(branch); err != nil {
		return err
	}
	if err := validateRef(from); err != nil {
		return err
	}
	_, err := c.run(ctx, "worktree", "add", "-b", branch, path, from)
	return err
}

func (c *Client) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := c.run(ctx, args...)
	return err
}

func (c *Client) Checkout(ctx context.Context, branch string, create bool) error {
	if err := validateRef(branch); err != nil {
		return err
	}
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, branch)
	_, err := c.run(ctx, args...)
	return err
}

func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	return strings.TrimSpace(out), err
}

func (c *Client) Tag(ctx context.Context, name, ref string) error {
	if err := validateRef(name); err != nil {
		return err
	}
	if err := validateRef(ref); err != nil {
		return err
	}
	args := []string{"tag", "-f", name}
	if ref != "" {
		args = append(args, ref)
	}
	_, err := c.run(ctx, args...)
	return err
}

func (c *Client) DeleteTag(ctx context.Context, name string) error {
	if err := validateRef(name); err != nil {
		return err
	}
	_, err := c.run(ctx, "tag", "-d", name)
	return err
}

func (c *Client) RevParse(ctx context.Context, ref string) (string, error) {
	if err := validateRef(ref); err != nil {
		return "", err
	}
	out, err := c.run(ctx, "rev-parse", ref)
	return strings.TrimSpace(out), err
}

func (c *Client) Status(ctx context.Context) (string, error) {
	return c.run(ctx, "status", "--porcelain")
}

func (c *Client) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (c *Client) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func (c *Client) Show(ctx context.Context, ref string) (string, error) {
	if err := validateRef(ref); err != nil {
		return "", err
	}
	return c.run(ctx, "show", ref)
}

func (c *Client) ShowIndexStage(ctx context.Context, stage int, path string) (string, error) {
	return c.run(ctx, "show", fmt.Sprintf(":%d:%s", stage, path))
}

func (c *Client) AddAll(ctx context.Context) error {
	_, err := c.run(ctx, "add", "-A")
	return err
}

func (c *Client) Commit(ctx context.Context, message string) error {
	_, err := c.run(ctx, "commit", "-m", message)
	return err
}

func (c *Client) Merge(ctx context.Context, branch string, opts MergeOpts) error {
	if err := validateRef(branch); err != nil {
		return err
	}
	args := []string{"merge"}
	if opts.NoCommit {
		args = append(args, "--no-commit", "--no-ff")
	}
	args = append(args, branch)
	_, err := c.run(ctx, args...)
	return err
}

func (c *Client) MergeAbort(ctx context.Context) error {
	_, err := c.run(ctx, "merge", "--abort")
	return err
}

func (c *Client) ResetHard(ctx context.Context, ref string) error {
	if err := validateRef(ref); err != nil {
		return err
	}
	_, err := c.run(ctx, "reset", "--hard", ref)
	return err
}

func (c *Client) PullRebase(ctx context.Context) error {
	_, err := c.run(ctx, "pull", "--rebase")
	return err
}

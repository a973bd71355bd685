package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// checkClaudeCLI verifies that the 'claude' CLI is available in PATH,
// mirroring the teacher's own prerequisite check for the default
// subprocess agent.
func checkClaudeCLI() error {
	if _, err := exec.LookPath("claude"); err != nil {
		return fmt.Errorf("claude CLI not found in PATH\n\n" +
			"ralph-tui's default agent plugin spawns the Claude Code CLI.\n\n" +
			"Install it with:\n" +
			"  npm install -g @anthropic-ai/claude-code")
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "ralph-tui",
	Short: "Parallel coding-agent orchestrator",
	Long: `ralph-tui analyzes a task graph, spawns coding agents in parallel
isolated git worktrees, and serially merges their results back into a
session branch, resolving conflicts with an injected AI resolver.

Available commands:
  run      Run a session against tasks.yaml in the current directory
  version  Show version information

Use "ralph-tui [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = versionString
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

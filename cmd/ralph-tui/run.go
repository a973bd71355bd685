package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ralph-tui/ralph-tui/internal/agentrunner/claudeapi"
	agentcli "github.com/ralph-tui/ralph-tui/internal/agentrunner/cli"
	"github.com/ralph-tui/ralph-tui/internal/audit"
	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/executor"
	"github.com/ralph-tui/ralph-tui/internal/fstracker"
	"github.com/ralph-tui/ralph-tui/internal/merge"
	"github.com/ralph-tui/ralph-tui/internal/worker"
	"github.com/ralph-tui/ralph-tui/pkg/core"
)

var (
	runConfigPath string
	runModel      string
	runResume     bool
	runUseAPI     bool
	runBedrock    bool
	runNoAudit    bool
	runNoResolver bool
	runEscalate   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a parallel session against tasks.yaml in the current directory",
	Long: `Analyzes tasks.yaml into a dependency graph, spawns a coding agent per
independent task in its own git worktree, and serially merges results back
to a session branch.

By default the agent plugin is the Claude Code CLI (spawned as a
subprocess); --api switches to talking directly to the Anthropic Messages
API instead. The merge conflict resolver always talks to the Messages API
directly (spec.md §4.8), independent of which agent plugin is active;
pass --no-ai-resolver to abandon conflicted merges instead.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to a config YAML file (default: layered XDG/project/env config)")
	runCmd.Flags().StringVar(&runModel, "model", claudeapi.DefaultModel, "Primary agent model id")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Resume the last checkpointed session if one exists")
	runCmd.Flags().BoolVar(&runUseAPI, "api", false, "Talk directly to the Anthropic Messages API instead of spawning the claude CLI")
	runCmd.Flags().BoolVar(&runBedrock, "bedrock", false, "Route direct-API requests (agent and/or resolver) through AWS Bedrock")
	runCmd.Flags().BoolVar(&runNoAudit, "no-audit", false, "Disable the supplementary sqlite audit log")
	runCmd.Flags().BoolVar(&runNoResolver, "no-ai-resolver", false, "Abandon conflicted merges instead of resolving them via the Messages API")
	runCmd.Flags().BoolVar(&runEscalate, "enable-escalation", false, "Opt into escalating unresolved worker failures to an external responder")
}

func runRun(cmd *cobra.Command, args []string) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in run: %v", r)
		}
	}()

	if !runUseAPI {
		if err := checkClaudeCLI(); err != nil {
			return err
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	var cfg *config.Config
	if runConfigPath != "" {
		cfg, err = config.LoadFromPath(runConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nreceived interrupt, cancelling...")
		cancel()
	}()

	var runner core.AgentRunner
	if runUseAPI {
		client, err := claudeapi.NewClient(claudeapi.ClientConfig{Model: runModel, UseAWSBedrock: runBedrock})
		if err != nil {
			return fmt.Errorf("building claudeapi client: %w", err)
		}
		runner = claudeapi.NewRunner(client)
	} else {
		runner = agentcli.New()
	}

	resolver := buildResolver(runBedrock)

	tracker := fstracker.NewInDir(cwd)

	var auditDB *audit.DB
	if !runNoAudit {
		auditDB, err = audit.Open(audit.DefaultPath(cwd))
		if err != nil {
			fmt.Printf("warning: audit log unavailable: %v\n", err)
			auditDB = nil
		} else {
			defer auditDB.Close()
		}
	}

	emitter := core.NewEmitter(256)

	ex := executor.New(executor.Options{
		Cfg:              cfg,
		Cwd:              cwd,
		Tracker:          tracker,
		Runner:           runner,
		Render:           renderPrompt,
		Primary:          worker.AgentConfig{Name: "primary", Model: runModel},
		Resolver:         resolver,
		Emitter:          emitter,
		EnableEscalation: runEscalate,
	})

	if auditDB != nil {
		go audit.Subscribe(emitter, auditDB)
	}
	go printEvents(emitter.Events())

	totals, err := ex.Execute(ctx, runResume)
	if err != nil {
		return fmt.Errorf("session failed: %w", err)
	}

	fmt.Printf("\n%s session %s: merged=%d failed=%d cost=$%.4f\n",
		color.GreenString("done"), totals.SessionID, len(totals.MergedTaskIDs), len(totals.FailedTaskIDs), totals.CostUSD)
	return nil
}

// buildResolver returns the AI-assisted conflict resolver unless
// --no-ai-resolver was passed or no API key is configured, in which
// case conflicted merges are abandoned (spec.md §4.8's documented
// fallback for a nil Resolver).
func buildResolver(bedrock bool) merge.Resolver {
	if runNoResolver {
		return nil
	}
	if !bedrock && os.Getenv("ANTHROPIC_API_KEY") == "" {
		fmt.Println("warning: ANTHROPIC_API_KEY not set; conflicted merges will be abandoned, not AI-resolved")
		return nil
	}
	client, err := claudeapi.NewClient(claudeapi.ClientConfig{UseAWSBedrock: bedrock})
	if err != nil {
		fmt.Printf("warning: ai resolver unavailable: %v; conflicted merges will be abandoned\n", err)
		return nil
	}
	return claudeapi.NewResolver(client)
}

// Package config loads and validates the configuration object the
// orchestration core is constructed with. Loading supports a layered
// stack (defaults, XDG user config, project config, environment
// overrides); the core itself never parses flags or files directly — it
// only ever sees the validated Config value produced here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the validated configuration object consumed by the
// orchestration core (spec.md §1: "(i) a validated configuration
// object").
type Config struct {
	Scheduling SchedulingConfig `mapstructure:"scheduling"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Merge      MergeConfig      `mapstructure:"merge"`
	CommitLock CommitLockConfig `mapstructure:"commit_lock"`
	Stream     StreamConfig     `mapstructure:"stream"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Pricing    map[string]ModelPricing `mapstructure:"pricing"`
}

// SchedulingConfig bounds group-level concurrency.
type SchedulingConfig struct {
	MaxWorkers int `mapstructure:"max_workers"`
}

// WorkerConfig bounds a single worker's iteration loop.
type WorkerConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"` // 0 = unlimited
	AgentTimeout  time.Duration `mapstructure:"agent_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	AutoCommit    bool          `mapstructure:"auto_commit"`
	// RecoverPrimaryBetweenIterations reverts to the primary agent once its
	// cooldown elapses, checked at the start of each iteration.
	RecoverPrimaryBetweenIterations bool `mapstructure:"recover_primary_between_iterations"`
	// ErrorStrategy selects the worker's response once MaxRetries is
	// exhausted on a non-zero exit or timeout: "skip" or "abort". Both
	// end the worker with the error on its result; the executor records
	// the task as failed and the rest of the group still runs.
	ErrorStrategy string `mapstructure:"error_strategy"`
}

// MergeConfig tunes the merge engine and conflict resolver.
type MergeConfig struct {
	MaxMergeRetries  int           `mapstructure:"max_merge_retries"`
	ResolverTimeout  time.Duration `mapstructure:"resolver_timeout"`
}

// CommitLockConfig tunes the cross-process commit mutex (spec.md §4.4).
type CommitLockConfig struct {
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// StreamConfig tunes the bounded stream capture (spec.md §4.12).
type StreamConfig struct {
	LimitBytes int `mapstructure:"limit_bytes"`
}

// RateLimitConfig tunes worker backoff on a rate-limit signal (spec.md
// §4.6 step 5).
type RateLimitConfig struct {
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	Factor      float64       `mapstructure:"factor"`
	JitterFrac  float64       `mapstructure:"jitter_frac"`
}

// ModelPricing is the dollar-per-million-token rate for a model.
type ModelPricing struct {
	InputPerMillion  float64 `mapstructure:"input_per_million"`
	OutputPerMillion float64 `mapstructure:"output_per_million"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduling.max_workers", 4)

	v.SetDefault("worker.max_iterations", 0)
	v.SetDefault("worker.agent_timeout", "15m")
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.retry_delay", "5s")
	v.SetDefault("worker.auto_commit", true)
	v.SetDefault("worker.recover_primary_between_iterations", true)
	v.SetDefault("worker.error_strategy", "abort")

	v.SetDefault("merge.max_merge_retries", 3)
	v.SetDefault("merge.resolver_timeout", "5m")

	v.SetDefault("commit_lock.retry_delay", "500ms")
	v.SetDefault("commit_lock.max_attempts", 60)

	v.SetDefault("stream.limit_bytes", 1<<20) // 1 MiB

	v.SetDefault("rate_limit.base_backoff", "5s")
	v.SetDefault("rate_limit.factor", 2.0)
	v.SetDefault("rate_limit.jitter_frac", 0.25)
}

// Load builds a Config from, in increasing precedence: built-in defaults,
// the user's XDG config file, a project-local ".ralph-tui.yaml" if
// present, and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userDir := userConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectPath := findProjectConfig(); projectPath != "" {
		pv := viper.New()
		pv.SetConfigFile(projectPath)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("RALPH_TUI")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads and validates configuration from a single file,
// bypassing the layered XDG/project/env lookup. Primarily for tests and
// the demo CLI's --config flag.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects nonsensical values so the executor never has to guard
// against them mid-run.
func (c *Config) Validate() error {
	if c.Scheduling.MaxWorkers < 1 {
		return fmt.Errorf("scheduling.max_workers must be >= 1, got %d", c.Scheduling.MaxWorkers)
	}
	if c.Worker.MaxIterations < 0 {
		return fmt.Errorf("worker.max_iterations must be >= 0, got %d", c.Worker.MaxIterations)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must be >= 0, got %d", c.Worker.MaxRetries)
	}
	switch c.Worker.ErrorStrategy {
	case "skip", "abort":
	default:
		return fmt.Errorf("worker.error_strategy must be \"skip\" or \"abort\", got %q", c.Worker.ErrorStrategy)
	}
	if c.Stream.LimitBytes <= 0 {
		return fmt.Errorf("stream.limit_bytes must be > 0, got %d", c.Stream.LimitBytes)
	}
	if c.RateLimit.Factor <= 1.0 {
		return fmt.Errorf("rate_limit.factor must be > 1.0, got %f", c.RateLimit.Factor)
	}
	return nil
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ralph-tui")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ralph-tui")
}

func findProjectConfig() string {
	for _, name := range []string{".ralph-tui.yaml", ".ralph-tui.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

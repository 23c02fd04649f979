// Package config loads and validates branchsync's TOML configuration:
// one or more repositories to keep in sync, plus the retry and
// parallelism knobs each repository's sync engine is built with.
package config

import (
	"errors"
	"fmt"
)

// Config is the complete branchsync configuration: the set of
// repositories to mirror as worktree trees.
type Config struct {
	Repositories []RepositoryConfig `toml:"repository"`
}

// RepositoryConfig is the per-repository configuration recognized by the
// sync engine.
type RepositoryConfig struct {
	RepoURL                   string   `toml:"repo_url"`
	WorktreeDir               string   `toml:"worktree_dir"`
	BareRepoDir               string   `toml:"bare_repo_dir"`
	CronSchedule              string   `toml:"cron_schedule"`
	RunOnce                   bool     `toml:"run_once"`
	BranchMaxAge              string   `toml:"branch_max_age"`
	SkipLFS                   bool     `toml:"skip_lfs"`
	UpdateExistingWorktrees   bool     `toml:"update_existing_worktrees"`
	FilesToCopyOnBranchCreate []string `toml:"files_to_copy_on_branch_create"`
	Debug                     bool     `toml:"debug"`

	Retry       RetryConfig       `toml:"retry"`
	Parallelism ParallelismConfig `toml:"parallelism"`
}

// RetryConfig configures the Retry Engine (component D).
type RetryConfig struct {
	// MaxAttempts is a positive integer as a string, or "unlimited".
	MaxAttempts       string  `toml:"max_attempts"`
	MaxLFSRetries     int     `toml:"max_lfs_retries"`
	InitialDelayMs    int     `toml:"initial_delay_ms"`
	MaxDelayMs        int     `toml:"max_delay_ms"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	JitterMs          int     `toml:"jitter_ms"`
}

// ParallelismConfig configures the Concurrency Limiter (component E).
type ParallelismConfig struct {
	MaxRepositories     int `toml:"max_repositories"`
	MaxWorktreeCreation int `toml:"max_worktree_creation"`
	MaxWorktreeUpdates  int `toml:"max_worktree_updates"`
	MaxWorktreeRemoval  int `toml:"max_worktree_removal"`
	MaxStatusChecks     int `toml:"max_status_checks"`
}

// Validate checks that all config values are internally consistent.
// Returns an error describing the first invalid value found.
func (c Config) Validate() error {
	if len(c.Repositories) == 0 {
		return errors.New("at least one [[repository]] must be configured")
	}
	for i, r := range c.Repositories {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("repository[%d] (%s): %w", i, r.RepoURL, err)
		}
	}
	return nil
}

// Validate checks a single repository's configuration.
func (r RepositoryConfig) Validate() error {
	if r.RepoURL == "" {
		return errors.New("repo_url is required")
	}
	if r.WorktreeDir == "" {
		return errors.New("worktree_dir is required")
	}
	if r.BranchMaxAge != "" {
		if _, err := ParseBranchMaxAge(r.BranchMaxAge); err != nil {
			return fmt.Errorf("branch_max_age: %w", err)
		}
	}
	if err := r.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := r.Parallelism.Validate(); err != nil {
		return fmt.Errorf("parallelism: %w", err)
	}
	return nil
}

// Validate checks retry config values.
func (r RetryConfig) Validate() error {
	if r.MaxAttempts != "" && r.MaxAttempts != "unlimited" {
		n := 0
		if _, err := fmt.Sscanf(r.MaxAttempts, "%d", &n); err != nil || n <= 0 {
			return fmt.Errorf("max_attempts must be a positive integer or \"unlimited\", got %q", r.MaxAttempts)
		}
	}
	if r.MaxLFSRetries < 0 {
		return errors.New("max_lfs_retries cannot be negative")
	}
	if r.InitialDelayMs < 0 {
		return errors.New("initial_delay_ms cannot be negative")
	}
	if r.MaxDelayMs < 0 {
		return errors.New("max_delay_ms cannot be negative")
	}
	if r.BackoffMultiplier != 0 && r.BackoffMultiplier < 1 {
		return errors.New("backoff_multiplier must be >= 1 when set")
	}
	if r.JitterMs < 0 {
		return errors.New("jitter_ms cannot be negative")
	}
	return nil
}

// Validate checks parallelism config values and rejects configurations
// whose combined product exceeds 100 concurrent operations.
func (p ParallelismConfig) Validate() error {
	for name, v := range map[string]int{
		"max_repositories":      p.MaxRepositories,
		"max_worktree_creation": p.MaxWorktreeCreation,
		"max_worktree_updates":  p.MaxWorktreeUpdates,
		"max_worktree_removal":  p.MaxWorktreeRemoval,
		"max_status_checks":     p.MaxStatusChecks,
	} {
		if v < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	product := p.MaxRepositories * (p.MaxWorktreeCreation + p.MaxWorktreeUpdates + p.MaxWorktreeRemoval + p.MaxStatusChecks)
	if product > 100 {
		return fmt.Errorf("parallelism product (repositories * sum of per-class limits = %d) exceeds 100", product)
	}
	return nil
}

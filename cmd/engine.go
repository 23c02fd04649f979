package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmcampanini/branchsync/internal/config"
	"github.com/jmcampanini/branchsync/internal/gitfacade"
	"github.com/jmcampanini/branchsync/internal/limiter"
	"github.com/jmcampanini/branchsync/internal/metadata"
	"github.com/jmcampanini/branchsync/internal/retry"
	"github.com/jmcampanini/branchsync/internal/statusprobe"
	"github.com/jmcampanini/branchsync/internal/supervisor"
	"github.com/jmcampanini/branchsync/internal/syncengine"
)

// buildSupervisor wires one Engine per configured repository into a
// Supervisor, sharing a single gitfacade.CLI and statusprobe.CLIProber
// across repositories. The returned EngineBuilder is closed over those
// same shared clients, so a later config reload rebuilds engines through
// the identical git/probe wiring instead of constructing fresh ones.
func buildSupervisor(cfg config.Config) (*supervisor.Supervisor, supervisor.EngineBuilder, error) {
	git := gitfacade.New()
	prober := statusprobe.New()
	build := newEngineBuilder(git, prober)

	sup := supervisor.New(time.UTC, maxRepositories(cfg))
	for _, repoCfg := range cfg.Repositories {
		engine, err := build(repoCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("building engine for %s: %w", repoCfg.RepoURL, err)
		}
		if err := engine.Initialize(context.Background()); err != nil {
			return nil, nil, fmt.Errorf("initializing %s: %w", repoCfg.RepoURL, err)
		}
		if err := sup.Register(repoName(repoCfg), engine, repoCfg.CronSchedule); err != nil {
			return nil, nil, err
		}
	}
	return sup, build, nil
}

// maxRepositories takes the largest MaxRepositories configured across
// repositories as the Supervisor-wide concurrency bound, since every
// registered engine shares the same supervisor and its repoSem must be
// sized once, up front, for all of them.
func maxRepositories(cfg config.Config) int {
	max := 0
	for _, repoCfg := range cfg.Repositories {
		if repoCfg.Parallelism.MaxRepositories > max {
			max = repoCfg.Parallelism.MaxRepositories
		}
	}
	return max
}

// newEngineBuilder returns an EngineBuilder closed over the shared git
// and status-probe clients, for use by both the initial supervisor build
// and later config reloads.
func newEngineBuilder(git gitfacade.Git, prober statusprobe.Prober) supervisor.EngineBuilder {
	return func(repoCfg config.RepositoryConfig) (*syncengine.Engine, error) {
		return buildEngine(repoCfg, git, prober)
	}
}

func buildEngine(repoCfg config.RepositoryConfig, git gitfacade.Git, prober statusprobe.Prober) (*syncengine.Engine, error) {
	lim, err := limiter.New(limiter.Config{
		Repositories:     repoCfg.Parallelism.MaxRepositories,
		WorktreeCreation: repoCfg.Parallelism.MaxWorktreeCreation,
		WorktreeUpdates:  repoCfg.Parallelism.MaxWorktreeUpdates,
		WorktreeRemoval:  repoCfg.Parallelism.MaxWorktreeRemoval,
		StatusChecks:     repoCfg.Parallelism.MaxStatusChecks,
	})
	if err != nil {
		return nil, fmt.Errorf("parallelism config: %w", err)
	}

	var maxAge time.Duration
	if repoCfg.BranchMaxAge != "" {
		maxAge, err = config.ParseBranchMaxAge(repoCfg.BranchMaxAge)
		if err != nil {
			return nil, err
		}
	}

	retryOpts := retry.Options{
		MaxLFSRetries:     repoCfg.Retry.MaxLFSRetries,
		InitialDelay:      time.Duration(repoCfg.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(repoCfg.Retry.MaxDelayMs) * time.Millisecond,
		BackoffMultiplier: repoCfg.Retry.BackoffMultiplier,
		Jitter:            time.Duration(repoCfg.Retry.JitterMs) * time.Millisecond,
	}
	if repoCfg.Retry.MaxAttempts != "" && repoCfg.Retry.MaxAttempts != "unlimited" {
		n := 0
		if _, err := fmt.Sscanf(repoCfg.Retry.MaxAttempts, "%d", &n); err == nil {
			retryOpts.MaxAttempts = n
		}
	}

	engine := syncengine.New(syncengine.Config{
		RepoURL:                   repoCfg.RepoURL,
		BareDir:                   repoCfg.BareRepoDir,
		WorktreeBase:              repoCfg.WorktreeDir,
		SkipLFS:                   repoCfg.SkipLFS,
		UpdateExistingWorktrees:   repoCfg.UpdateExistingWorktrees,
		BranchMaxAge:              maxAge,
		FilesToCopyOnBranchCreate: repoCfg.FilesToCopyOnBranchCreate,
		Git:                       git,
		Prober:                    prober,
		Metadata:                  metadata.NewFileStore(repoCfg.BareRepoDir),
		Limiter:                   lim,
		Retry:                     retryOpts,
	})
	return engine, nil
}

// repoName derives a short identifying name for a repository, used as
// the Supervisor registration key and in CLI --repo filters.
func repoName(repoCfg config.RepositoryConfig) string {
	if repoCfg.WorktreeDir != "" {
		return repoCfg.WorktreeDir
	}
	return repoCfg.RepoURL
}

// loadConfig loads and validates branchsync.toml from the standard
// search paths, or configPath alone when explicitly set.
func loadConfig(configPath string) (config.Config, error) {
	loader := config.NewDefaultLoader()
	paths := []string{configPath}
	if configPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return config.Config{}, fmt.Errorf("getting working directory: %w", err)
		}
		paths = config.ConfigPaths(cwd)
	}
	result, err := loader.Load(paths)
	if err != nil {
		return config.Config{}, err
	}
	return result.Config, nil
}

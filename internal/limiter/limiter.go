// Package limiter bounds the concurrency of each class of worktree
// operation with named semaphores, so e.g. concurrent `worktree add`
// invocations (unsafe against git's own worktree.lock) never exceed 1
// while status probes can run up to 20-wide (component E).
package limiter

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Config sets the weight of each named semaphore. Zero fields fall back
// to the documented defaults.
type Config struct {
	Repositories     int
	WorktreeCreation int
	WorktreeUpdates  int
	WorktreeRemoval  int
	StatusChecks     int
}

// DefaultConfig matches the spec's stated defaults: creations=1 (git's
// internal worktree.lock makes parallel `worktree add` unsafe),
// updates=3, removals=3, status probes=20, repositories=2.
func DefaultConfig() Config {
	return Config{
		Repositories:     2,
		WorktreeCreation: 1,
		WorktreeUpdates:  3,
		WorktreeRemoval:  3,
		StatusChecks:     20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Repositories == 0 {
		c.Repositories = d.Repositories
	}
	if c.WorktreeCreation == 0 {
		c.WorktreeCreation = d.WorktreeCreation
	}
	if c.WorktreeUpdates == 0 {
		c.WorktreeUpdates = d.WorktreeUpdates
	}
	if c.WorktreeRemoval == 0 {
		c.WorktreeRemoval = d.WorktreeRemoval
	}
	if c.StatusChecks == 0 {
		c.StatusChecks = d.StatusChecks
	}
	return c
}

// product is the combined concurrent-operation ceiling this config
// implies: the worst case where every class is simultaneously saturated
// across every concurrently-syncing repository.
func (c Config) product() int {
	return c.Repositories * (c.WorktreeCreation + c.WorktreeUpdates + c.WorktreeRemoval + c.StatusChecks)
}

const maxProduct = 100

// Limiter holds one semaphore per operation class, including a
// per-repository one (ClassRepository). The Engine Supervisor does not
// use it; it bounds concurrent repositories with its own semaphore.
type Limiter struct {
	repositories     *semaphore.Weighted
	worktreeCreation *semaphore.Weighted
	worktreeUpdates  *semaphore.Weighted
	worktreeRemoval  *semaphore.Weighted
	statusChecks     *semaphore.Weighted
}

// New builds a Limiter, rejecting configurations whose product exceeds
// the 100-concurrent-op ceiling.
func New(cfg Config) (*Limiter, error) {
	cfg = cfg.withDefaults()
	if p := cfg.product(); p > maxProduct {
		return nil, fmt.Errorf("parallelism config implies %d concurrent operations, exceeding the limit of %d", p, maxProduct)
	}
	return &Limiter{
		repositories:     semaphore.NewWeighted(int64(cfg.Repositories)),
		worktreeCreation: semaphore.NewWeighted(int64(cfg.WorktreeCreation)),
		worktreeUpdates:  semaphore.NewWeighted(int64(cfg.WorktreeUpdates)),
		worktreeRemoval:  semaphore.NewWeighted(int64(cfg.WorktreeRemoval)),
		statusChecks:     semaphore.NewWeighted(int64(cfg.StatusChecks)),
	}, nil
}

// Class names the named semaphore a call should acquire.
type Class int

const (
	ClassRepository Class = iota
	ClassWorktreeCreation
	ClassWorktreeUpdate
	ClassWorktreeRemoval
	ClassStatusCheck
)

func (l *Limiter) sem(class Class) *semaphore.Weighted {
	switch class {
	case ClassRepository:
		return l.repositories
	case ClassWorktreeCreation:
		return l.worktreeCreation
	case ClassWorktreeUpdate:
		return l.worktreeUpdates
	case ClassWorktreeRemoval:
		return l.worktreeRemoval
	case ClassStatusCheck:
		return l.statusChecks
	default:
		return nil
	}
}

// Run blocks until a slot in class is free, runs fn holding that slot,
// and releases it afterward. It returns early with ctx.Err() if ctx is
// cancelled before a slot frees up.
func (l *Limiter) Run(ctx context.Context, class Class, fn func(ctx context.Context) error) error {
	sem := l.sem(class)
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)
	return fn(ctx)
}

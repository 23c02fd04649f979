// Package supervisor owns a set of sync engines, one per configured
// repository, and schedules them on independent cron entries with
// skip-if-running semantics: a pass due while the previous pass for
// that repository is still running is dropped, not queued.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/jmcampanini/branchsync/internal/config"
	"github.com/jmcampanini/branchsync/internal/limiter"
	"github.com/jmcampanini/branchsync/internal/syncengine"
)

// managedEngine pairs one sync engine with its schedule and last-run
// bookkeeping.
type managedEngine struct {
	name     string
	engine   *syncengine.Engine
	schedule string // empty means run-once only, no cron entry
	entryID  cron.EntryID
	hasEntry bool

	mu         sync.Mutex
	lastRun    time.Time
	lastResult *syncengine.Result
	lastErr    error
}

// Supervisor runs registered engines on a shared cron clock.
type Supervisor struct {
	mu      sync.Mutex
	cron    *cron.Cron
	engines []*managedEngine
	running bool
	log     *clog.Logger

	// repoSem bounds how many engines may run SyncAll concurrently,
	// sized by maxRepositories, shared across every registered engine
	// regardless of which one acquires it first.
	repoSem *semaphore.Weighted
}

// New creates a Supervisor. loc defaults to UTC when nil. maxRepositories
// bounds how many engines SyncAll runs concurrently; 0 or negative falls
// back to limiter.DefaultConfig's repository bound.
func New(loc *time.Location, maxRepositories int) *Supervisor {
	if loc == nil {
		loc = time.UTC
	}
	if maxRepositories <= 0 {
		maxRepositories = limiter.DefaultConfig().Repositories
	}
	return &Supervisor{
		cron:    cron.New(cron.WithLocation(loc)),
		log:     clog.Default().WithPrefix("supervisor"),
		repoSem: semaphore.NewWeighted(int64(maxRepositories)),
	}
}

// Register adds an engine under name with the given cron schedule. An
// empty schedule registers the engine for SyncOne/SyncAll only; it never
// fires on its own.
func (s *Supervisor) Register(name string, engine *syncengine.Engine, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.engines {
		if m.name == name {
			return fmt.Errorf("engine %q already registered", name)
		}
	}

	me := &managedEngine{name: name, engine: engine, schedule: schedule}
	if schedule != "" {
		entryID, err := s.cron.AddFunc(schedule, func() {
			s.runOne(context.Background(), me)
		})
		if err != nil {
			return fmt.Errorf("registering schedule for %q: %w", name, err)
		}
		me.entryID = entryID
		me.hasEntry = true
	}
	s.engines = append(s.engines, me)
	return nil
}

// Start begins the cron clock. Safe to call once; subsequent calls are a
// no-op.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.log.Info("supervisor started", "engines", len(s.engines))
}

// Stop drains the cron scheduler, waiting for any in-flight job to
// return.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("supervisor stopped")
}

// SyncAll runs every registered engine once, concurrently but bounded
// by repoSem (maxRepositories), skipping any engine whose previous pass
// is still in progress. Returns one error per engine that failed, in
// registration order; a skip is not an error.
func (s *Supervisor) SyncAll(ctx context.Context) []error {
	s.mu.Lock()
	engines := make([]*managedEngine, len(s.engines))
	copy(engines, s.engines)
	s.mu.Unlock()

	errs := make([]error, len(engines))
	var wg sync.WaitGroup
	for i, me := range engines {
		i, me := i, me
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.repoSem.Acquire(ctx, 1); err != nil {
				errs[i] = err
				return
			}
			defer s.repoSem.Release(1)
			errs[i] = s.runOne(ctx, me)
		}()
	}
	wg.Wait()

	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// SyncOne runs the named engine once.
func (s *Supervisor) SyncOne(ctx context.Context, name string) error {
	me := s.find(name)
	if me == nil {
		return fmt.Errorf("no engine registered under %q", name)
	}
	return s.runOne(ctx, me)
}

func (s *Supervisor) runOne(ctx context.Context, me *managedEngine) error {
	if me.engine.IsSyncInProgress() {
		s.log.Warn("skipping scheduled sync, previous pass still running", "repo", me.name)
		return nil
	}

	result, err := me.engine.Sync(ctx)

	me.mu.Lock()
	me.lastRun = time.Now()
	me.lastResult = result
	me.lastErr = err
	me.mu.Unlock()

	if err != nil {
		s.log.Error("sync pass failed", "repo", me.name, "error", err)
		return fmt.Errorf("%s: %w", me.name, err)
	}
	s.log.Info("sync pass complete", "repo", me.name)
	return nil
}

// IsAnyInProgress reports whether any registered engine is mid-pass.
func (s *Supervisor) IsAnyInProgress() bool {
	s.mu.Lock()
	engines := make([]*managedEngine, len(s.engines))
	copy(engines, s.engines)
	s.mu.Unlock()

	for _, me := range engines {
		if me.engine.IsSyncInProgress() {
			return true
		}
	}
	return false
}

// WaitForQuiescence blocks until no registered engine is in progress, or
// ctx is done.
func (s *Supervisor) WaitForQuiescence(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !s.IsAnyInProgress() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EngineBuilder constructs a fresh, initialized *syncengine.Engine for
// repoCfg. Supplied by the caller (cmd/ owns the wiring of gitfacade,
// statusprobe, limiter, metadata, and retry needed to build one) so this
// package never has to import those concerns itself.
type EngineBuilder func(repoCfg config.RepositoryConfig) (*syncengine.Engine, error)

// Reload applies cfg: waits for quiescence, cancels every scheduled
// cron entry for a repository cfg names, rebuilds that repository's
// engine via build, and re-registers it under its new schedule — so
// changes to bareRepoDir, retry, or parallelism settings actually take
// effect instead of being silently ignored by the already-running
// engine. Repositories in cfg not yet registered are added; repositories
// no longer present in cfg are left registered untouched (Reload never
// removes an engine the caller didn't name a replacement for). If
// triggerSync is true, each rebuilt engine is synced once immediately.
func (s *Supervisor) Reload(ctx context.Context, cfg config.Config, name func(config.RepositoryConfig) string, build EngineBuilder, triggerSync bool) error {
	if err := s.WaitForQuiescence(ctx); err != nil {
		return fmt.Errorf("waiting for quiescence before reload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, repoCfg := range cfg.Repositories {
		repoName := name(repoCfg)

		engine, err := build(repoCfg)
		if err != nil {
			return fmt.Errorf("rebuilding engine for %q: %w", repoName, err)
		}
		if err := engine.Initialize(ctx); err != nil {
			return fmt.Errorf("initializing rebuilt engine for %q: %w", repoName, err)
		}

		me := s.findLocked(repoName)
		if me == nil {
			me = &managedEngine{name: repoName}
			s.engines = append(s.engines, me)
		} else if me.hasEntry {
			s.cron.Remove(me.entryID)
			me.hasEntry = false
		}
		me.engine = engine
		me.schedule = repoCfg.CronSchedule

		if me.schedule != "" {
			me := me
			entryID, err := s.cron.AddFunc(me.schedule, func() {
				s.runOne(context.Background(), me)
			})
			if err != nil {
				return fmt.Errorf("scheduling reloaded engine for %q: %w", repoName, err)
			}
			me.entryID = entryID
			me.hasEntry = true
		}
		s.log.Info("engine reloaded", "repo", repoName, "schedule", me.schedule)

		if triggerSync {
			me := me
			go s.runOne(context.Background(), me)
		}
	}
	return nil
}

// LastResult returns the most recent Result and error recorded for name,
// or an error if name was never registered or never run.
func (s *Supervisor) LastResult(name string) (*syncengine.Result, time.Time, error) {
	me := s.find(name)
	if me == nil {
		return nil, time.Time{}, fmt.Errorf("no engine registered under %q", name)
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.lastRun.IsZero() {
		return nil, time.Time{}, errors.New("no sync pass has run yet")
	}
	return me.lastResult, me.lastRun, me.lastErr
}

func (s *Supervisor) find(name string) *managedEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(name)
}

// findLocked is find without acquiring s.mu; callers must already hold it.
func (s *Supervisor) findLocked(name string) *managedEngine {
	for _, me := range s.engines {
		if me.name == name {
			return me
		}
	}
	return nil
}

// Names returns registered engine names in registration order.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.engines))
	for i, me := range s.engines {
		names[i] = me.name
	}
	return names
}

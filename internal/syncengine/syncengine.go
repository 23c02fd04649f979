// Package syncengine drives one repository's worktree tree toward the
// state implied by its remote branches: creating worktrees for new
// branches, fast-forwarding or resetting existing ones, quarantining
// genuinely diverged trees, and removing worktrees whose branch is gone
// (component F, the heart of branchsync).
package syncengine

import (
	"context"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"

	"github.com/jmcampanini/branchsync/internal/gitfacade"
	"github.com/jmcampanini/branchsync/internal/limiter"
	"github.com/jmcampanini/branchsync/internal/metadata"
	"github.com/jmcampanini/branchsync/internal/retry"
	"github.com/jmcampanini/branchsync/internal/statusprobe"
)

// Config wires one Engine instance to a single repository.
type Config struct {
	RepoURL                   string
	BareDir                   string
	WorktreeBase              string
	SkipLFS                   bool
	UpdateExistingWorktrees   bool
	BranchMaxAge              time.Duration // 0 disables age filtering
	FilesToCopyOnBranchCreate []string

	Git      gitfacade.Git
	Prober   statusprobe.Prober
	Metadata metadata.Store
	Limiter  *limiter.Limiter
	Retry    retry.Options

	Log *clog.Logger

	// Events, if set, receives one Event per completed phase of each
	// Sync pass. Sends are non-blocking: a full or unread channel drops
	// events rather than stalling the sync pass.
	Events chan<- Event
}

// Engine runs sync passes for one repository.
type Engine struct {
	cfg           Config
	defaultBranch string

	mu         sync.Mutex
	inProgress bool

	log *clog.Logger
}

// New builds an Engine. Call Initialize before the first Sync.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = clog.Default()
	}
	log = log.With("repo", cfg.RepoURL)
	return &Engine{cfg: cfg, log: log}
}

// Initialize ensures the bare repository exists and discovers the
// default branch. Must be called once before Sync.
func (e *Engine) Initialize(ctx context.Context) error {
	branch, err := e.cfg.Git.InitializeBare(ctx, e.cfg.RepoURL, e.cfg.BareDir)
	if err != nil {
		return gitfacade.Wrap("initialize", err)
	}
	e.defaultBranch = branch
	return nil
}

// IsSyncInProgress reports whether a Sync call is currently running on
// this Engine.
func (e *Engine) IsSyncInProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inProgress
}

func (e *Engine) beginPass() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inProgress {
		return false
	}
	e.inProgress = true
	return true
}

func (e *Engine) endPass() {
	e.mu.Lock()
	e.inProgress = false
	e.mu.Unlock()
}

// Action is the outcome the classify phase assigned a given worktree.
type Action string

const (
	ActionSkip       Action = "skip"
	ActionRemove     Action = "remove"
	ActionUpdate     Action = "update"
	ActionReset      Action = "reset"
	ActionQuarantine Action = "quarantine"
	ActionCreate     Action = "create"
	ActionWarnKeep   Action = "warn-keep"
)

// EntryResult records what happened to a single worktree/branch during
// one pass, for the Result summary and for tests asserting on S1-S6.
type EntryResult struct {
	Branch string
	Path   string
	Action Action
	Reason string
	Err    error
}

// PhaseTiming records one phase's wall-clock duration, operation count,
// and the summed per-operation time actually measured inside the phase
// (0 when the phase doesn't track it, e.g. a single-operation phase
// like fetch) — the raw material for the Performance Summary report.
type PhaseTiming struct {
	Name           string
	Duration       time.Duration
	OperationCount int
	OperationTime  time.Duration
}

// Result is the outcome of one Sync call.
type Result struct {
	Entries []EntryResult
	Phases  []PhaseTiming
	Err     error // set if a whole-pass error aborted the run
}

func (r *Result) countAction(a Action) int {
	n := 0
	for _, e := range r.Entries {
		if e.Action == a {
			n++
		}
	}
	return n
}

package syncengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmcampanini/branchsync/internal/gitfacade"
	"github.com/jmcampanini/branchsync/internal/limiter"
	"github.com/jmcampanini/branchsync/internal/retry"
)

// existingWorktree is one currently-registered worktree paired with its
// enumerated branch name.
type existingWorktree struct {
	path   string
	branch string
}

// Sync runs one full pass: prune, fetch, enumerate, orphan cleanup,
// classify, create, finalize. Refuses to start while another pass is
// already in progress on this Engine.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	if !e.beginPass() {
		return nil, errors.New("sync already in progress for this repository")
	}
	defer e.endPass()

	if e.defaultBranch == "" {
		return nil, gitfacade.NotInitialized("sync")
	}

	result := &Result{}
	finalizeQueue := make(map[string]string) // path -> action label, for phase 6

	// Phase 0 — prune.
	if err := e.timedPhase(result, "prune", 1, func() (time.Duration, error) {
		return 0, e.cfg.Git.PruneWorktrees(ctx, e.cfg.BareDir)
	}); err != nil {
		result.Err = err
		return result, err
	}

	// Phase 1 — fetch.
	if err := e.timedPhase(result, "fetch", 1, func() (time.Duration, error) {
		return 0, retry.Run(ctx, e.log, e.cfg.Retry, func(ctx context.Context) error {
			return e.cfg.Git.FetchAll(ctx, e.cfg.BareDir, e.cfg.SkipLFS)
		})
	}); err != nil {
		result.Err = err
		return result, err
	}

	// Phase 2 — enumerate.
	remote, err := e.enumerateRemote(ctx)
	if err != nil {
		result.Err = err
		return result, err
	}
	existing, orphans, err := e.enumerateExisting(ctx)
	if err != nil {
		result.Err = err
		return result, err
	}

	// Phase 3 — orphan cleanup.
	e.timedPhase(result, "orphan-cleanup", len(orphans), func() (time.Duration, error) {
		var opTime time.Duration
		for _, orphan := range orphans {
			start := time.Now()
			e.cleanOrphan(orphan)
			opTime += time.Since(start)
		}
		return opTime, nil
	})

	// Phase 4 — classify.
	var entries []EntryResult
	e.timedPhase(result, "classify", len(existing), func() (time.Duration, error) {
		var opTime time.Duration
		entries, opTime = e.classifyAll(ctx, existing, remote, finalizeQueue)
		return opTime, nil
	})
	result.Entries = append(result.Entries, entries...)

	// Phase 5 — create missing.
	toCreate := missingBranches(remote, existing, entries, e.defaultBranch)
	var created []EntryResult
	e.timedPhase(result, "create", len(toCreate), func() (time.Duration, error) {
		var opTime time.Duration
		created, opTime = e.createAll(ctx, toCreate, finalizeQueue)
		return opTime, nil
	})
	result.Entries = append(result.Entries, created...)

	// Phase 6 — finalize.
	e.timedPhase(result, "finalize", len(finalizeQueue), func() (time.Duration, error) {
		return e.finalizeAll(ctx, finalizeQueue), nil
	})

	return result, nil
}

// timedPhase runs fn, timing its wall-clock duration. fn returns the
// summed per-operation time it measured internally (0 if it doesn't
// track one), which Result.PerformanceSummary uses to compute a real
// parallel-efficiency ratio rather than one guaranteed by construction.
func (e *Engine) timedPhase(result *Result, name string, opCount int, fn func() (time.Duration, error)) error {
	start := time.Now()
	opTime, err := fn()
	duration := time.Since(start)
	result.Phases = append(result.Phases, PhaseTiming{Name: name, Duration: duration, OperationCount: opCount, OperationTime: opTime})
	e.publish(Event{Phase: name, Duration: duration, OperationCount: opCount})
	return err
}

// enumerateRemote builds the age-filtered remote branch set, always
// retaining the default branch regardless of age.
func (e *Engine) enumerateRemote(ctx context.Context) (map[string]bool, error) {
	branches, err := e.cfg.Git.ListRemoteBranchesWithActivity(ctx, e.cfg.BareDir)
	if err != nil {
		return nil, gitfacade.Wrap("list-remote-branches", err)
	}
	set := make(map[string]bool, len(branches))
	cutoff := time.Time{}
	if e.cfg.BranchMaxAge > 0 {
		cutoff = time.Now().Add(-e.cfg.BranchMaxAge)
	}
	for _, b := range branches {
		if b.Name == e.defaultBranch {
			set[b.Name] = true
			continue
		}
		if !cutoff.IsZero() && b.LastActivity.Before(cutoff) {
			continue
		}
		set[b.Name] = true
	}
	return set, nil
}

// enumerateExisting splits registered worktrees (excluding the in-bare
// default-branch worktree and anything under .diverged/) from orphan
// directories physically present but unregistered.
func (e *Engine) enumerateExisting(ctx context.Context) ([]existingWorktree, []string, error) {
	records, err := e.cfg.Git.ListWorktrees(ctx, e.cfg.BareDir)
	if err != nil {
		return nil, nil, gitfacade.Wrap("list-worktrees", err)
	}

	registered := make(map[string]bool)
	// holdsWorktree marks every directory above a registered worktree, so
	// the parent directories of slash-named branches ("feat" for
	// "feat/x") are not taken for orphans.
	holdsWorktree := make(map[string]bool)
	var existing []existingWorktree
	for _, r := range records {
		if r.Detached || r.Branch == "" {
			continue
		}
		if r.Branch == e.defaultBranch && filepath.Dir(r.AbsolutePath) == filepath.Dir(e.cfg.BareDir) {
			continue
		}
		if isUnderDiverged(e.cfg.WorktreeBase, r.AbsolutePath) {
			continue
		}
		registered[filepath.Clean(r.AbsolutePath)] = true
		for dir := filepath.Dir(filepath.Clean(r.AbsolutePath)); dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			holdsWorktree[dir] = true
		}
		existing = append(existing, existingWorktree{path: r.AbsolutePath, branch: r.Branch})
	}

	var orphans []string
	entries, err := os.ReadDir(e.cfg.WorktreeBase)
	if err != nil && !os.IsNotExist(err) {
		return nil, nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == ".diverged" {
			continue
		}
		path := filepath.Join(e.cfg.WorktreeBase, entry.Name())
		if !registered[filepath.Clean(path)] && !holdsWorktree[filepath.Clean(path)] {
			orphans = append(orphans, path)
		}
	}
	return existing, orphans, nil
}

func isUnderDiverged(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == ".diverged" || strings.HasPrefix(rel, ".diverged"+string(filepath.Separator))
}

// cleanOrphan removes a directory under worktreeBase with no registered
// worktree entry — typically left behind by a crashed `worktree add` —
// but only when it is empty or plainly not a git worktree. A directory
// that races enumeration (added between listWorktrees and here, or
// registered some other way) is left alone rather than deleted.
func (e *Engine) cleanOrphan(path string) {
	safe, err := isOrphanRemovable(path)
	if err != nil {
		e.log.Warn("failed to inspect orphan directory", "path", path, "error", err)
		return
	}
	if !safe {
		e.log.Warn("skipping orphan directory that looks like a real worktree", "path", path)
		return
	}
	if err := os.RemoveAll(path); err != nil {
		e.log.Warn("failed to remove orphan directory", "path", path, "error", err)
		return
	}
	e.log.Info("removed orphan directory", "path", path)
}

// isOrphanRemovable reports whether path is empty, absent, or plainly
// not a git worktree: no .git entry at all, a .git file without a
// gitdir: line, or a .git file whose gitdir target doesn't resolve to a
// real directory. A .git directory (a real repo) or a live gitdir target
// blocks removal.
func isOrphanRemovable(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	if len(entries) == 0 {
		return true, nil
	}

	gitPath := filepath.Join(path, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}

	data, err := os.ReadFile(gitPath)
	if err != nil {
		return false, err
	}
	const prefix = "gitdir:"
	line := strings.TrimSpace(string(data))
	if !strings.HasPrefix(line, prefix) {
		return true, nil
	}
	target := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if !filepath.IsAbs(target) {
		target = filepath.Join(path, target)
	}
	if st, err := os.Stat(target); err == nil && st.IsDir() {
		return false, nil
	}
	return true, nil
}

func missingBranches(remote map[string]bool, existing []existingWorktree, entries []EntryResult, defaultBranch string) []string {
	have := make(map[string]bool, len(existing))
	for _, ew := range existing {
		have[ew.branch] = true
	}
	// Entries that quarantined their worktree need a fresh create too.
	quarantined := make(map[string]bool)
	for _, e := range entries {
		if e.Action == ActionQuarantine {
			quarantined[e.Branch] = true
		}
	}

	var missing []string
	for branch := range remote {
		if branch == "" || branch == defaultBranch {
			continue
		}
		if have[branch] && !quarantined[branch] {
			continue
		}
		missing = append(missing, branch)
	}
	return missing
}

// createAll adds a worktree for each branch, bounded by the creation
// semaphore (weight 1: worktree add is globally serialized). Returns
// the summed per-branch wall-clock time alongside the results, for a
// real parallel-efficiency reading in the Performance Summary.
func (e *Engine) createAll(ctx context.Context, branches []string, finalizeQueue map[string]string) ([]EntryResult, time.Duration) {
	results := make([]EntryResult, len(branches))
	var opNanos int64
	g, gctx := errgroup.WithContext(ctx)
	for i, branch := range branches {
		i, branch := i, branch
		g.Go(func() error {
			start := time.Now()
			path := filepath.Join(e.cfg.WorktreeBase, filepath.FromSlash(branch))
			err := e.cfg.Limiter.Run(gctx, limiter.ClassWorktreeCreation, func(ctx context.Context) error {
				return e.addWorktreeWithRecovery(ctx, branch, path)
			})
			entry := EntryResult{Branch: branch, Path: path}
			if err != nil {
				entry.Action = ActionSkip
				entry.Err = err
				e.log.Error("failed to create worktree", "branch", branch, "error", err)
			} else {
				entry.Action = ActionCreate
				finalizeQueue[path] = string(ActionCreate)
				if err := e.copyFilesOnCreate(path); err != nil {
					e.log.Warn("failed to copy files into new worktree", "branch", branch, "error", err)
				}
			}
			results[i] = entry
			atomic.AddInt64(&opNanos, int64(time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()
	return results, time.Duration(atomic.LoadInt64(&opNanos))
}

// addWorktreeWithRecovery retries AddWorktree through the standard
// retry engine (covering LFS and already-registered reclassification
// inside the facade itself) and ensures the parent directory for
// slash-bearing branch names exists first.
func (e *Engine) addWorktreeWithRecovery(ctx context.Context, branch, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent directory for %s: %w", path, err)
	}
	return retry.Run(ctx, e.log, e.cfg.Retry, func(ctx context.Context) error {
		return e.cfg.Git.AddWorktree(ctx, e.cfg.BareDir, branch, path)
	})
}

func (e *Engine) copyFilesOnCreate(worktreePath string) error {
	for _, rel := range e.cfg.FilesToCopyOnBranchCreate {
		src := filepath.Join(e.cfg.BareDir, rel)
		dst := filepath.Join(worktreePath, rel)
		data, err := os.ReadFile(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// finalizeAll updates sync metadata for every worktree touched this
// pass, recording the post-action HEAD as lastSyncCommit. Returns the
// summed per-worktree time spent, since the loop itself runs
// sequentially.
func (e *Engine) finalizeAll(ctx context.Context, finalizeQueue map[string]string) time.Duration {
	var opTime time.Duration
	for path, action := range finalizeQueue {
		start := time.Now()
		commit, err := e.cfg.Git.GetCurrentCommit(ctx, path)
		if err != nil {
			e.log.Warn("failed to read HEAD for finalize", "path", path, "error", err)
			opTime += time.Since(start)
			continue
		}
		if action == string(ActionCreate) {
			branch, err := e.cfg.Git.GetCurrentBranch(ctx, path)
			if err != nil {
				e.log.Warn("failed to read branch for finalize", "path", path, "error", err)
				opTime += time.Since(start)
				continue
			}
			defaultCommit, _ := e.cfg.Git.GetRemoteCommit(ctx, e.cfg.BareDir, e.defaultBranch)
			if _, err := e.cfg.Metadata.Create(ctx, path, commit, "origin/"+branch, e.defaultBranch, defaultCommit); err != nil {
				e.log.Warn("failed to create metadata", "path", path, "error", err)
			}
			opTime += time.Since(start)
			continue
		}
		metaAction := metadataAction(action)
		if _, err := e.cfg.Metadata.UpdateLastSync(ctx, path, commit, metaAction); err != nil {
			e.log.Warn("failed to update metadata", "path", path, "error", err)
		}
		opTime += time.Since(start)
	}
	return opTime
}

package syncengine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jmcampanini/branchsync/internal/limiter"
	"github.com/jmcampanini/branchsync/internal/metadata"
	"github.com/jmcampanini/branchsync/internal/statusprobe"
)

func metadataAction(action string) metadata.Action {
	switch Action(action) {
	case ActionUpdate:
		return metadata.ActionUpdated
	case ActionReset:
		return metadata.ActionUpdated
	default:
		return metadata.ActionFetched
	}
}

// classifyAll runs the phase-4 decision tree over every existing
// worktree concurrently, bounded by the status-check semaphore for the
// read-only probes and the update/removal semaphores for mutations.
// Returns the summed per-worktree wall-clock time alongside the
// results, for a real parallel-efficiency reading in the Performance
// Summary.
func (e *Engine) classifyAll(ctx context.Context, existing []existingWorktree, remote map[string]bool, finalizeQueue map[string]string) ([]EntryResult, time.Duration) {
	results := make([]EntryResult, len(existing))
	var opNanos int64
	g, gctx := errgroup.WithContext(ctx)
	for i, ew := range existing {
		i, ew := i, ew
		g.Go(func() error {
			start := time.Now()
			results[i] = e.classifyOne(gctx, ew, remote[ew.branch], finalizeQueue)
			atomic.AddInt64(&opNanos, int64(time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()
	return results, time.Duration(atomic.LoadInt64(&opNanos))
}

func (e *Engine) classifyOne(ctx context.Context, ew existingWorktree, branchIsRemote bool, finalizeQueue map[string]string) EntryResult {
	if !branchIsRemote {
		return e.classifyGone(ctx, ew)
	}
	return e.classifyPresent(ctx, ew, finalizeQueue)
}

// classifyGone handles branches whose remote ref no longer exists.
func (e *Engine) classifyGone(ctx context.Context, ew existingWorktree) EntryResult {
	var status statusprobe.Result
	err := e.cfg.Limiter.Run(ctx, limiter.ClassStatusCheck, func(ctx context.Context) error {
		result, err := e.cfg.Prober.Probe(ctx, ew.path, ew.branch, e.lastSyncCommit(ctx, ew.path, ew.branch))
		status = result
		return err
	})
	if err != nil {
		return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "status probe failed", Err: err}
	}

	if status.UpstreamGone && status.HasUnpushedCommits {
		e.log.Warn("worktree has unpushed commits after upstream deletion, keeping for manual review",
			"branch", ew.branch, "path", ew.path)
		return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionWarnKeep, Reason: "unpushed commits, upstream gone"}
	}

	if status.CanRemove {
		err := e.cfg.Limiter.Run(ctx, limiter.ClassWorktreeRemoval, func(ctx context.Context) error {
			return e.cfg.Git.RemoveWorktree(ctx, e.cfg.BareDir, ew.path)
		})
		if err != nil {
			return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "remove failed", Err: err}
		}
		if err := e.cfg.Metadata.Delete(ctx, ew.path); err != nil {
			e.log.Warn("failed to delete metadata after removal", "path", ew.path, "error", err)
		}
		e.log.Info(fmt.Sprintf("Removed worktree '%s'", ew.branch))
		return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionRemove}
	}

	e.log.Info("skipping removal, worktree not clean", "branch", ew.branch, "reasons", status.Reasons)
	return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: strings.Join(status.Reasons, ",")}
}

// classifyPresent handles branches whose remote ref still exists.
func (e *Engine) classifyPresent(ctx context.Context, ew existingWorktree, finalizeQueue map[string]string) EntryResult {
	if ew.branch == e.defaultBranch {
		return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "default branch lives in bare repo"}
	}

	var probe statusprobe.Result
	err := e.cfg.Limiter.Run(ctx, limiter.ClassStatusCheck, func(ctx context.Context) error {
		r, err := e.cfg.Prober.Probe(ctx, ew.path, ew.branch, e.lastSyncCommit(ctx, ew.path, ew.branch))
		probe = r
		return err
	})
	if err != nil {
		return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "status probe failed", Err: err}
	}

	if probe.HasOperationInProgress {
		return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "operation in progress"}
	}

	canFF, err := e.cfg.Git.CanFastForward(ctx, e.cfg.BareDir, ew.path, ew.branch)
	if err != nil {
		return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "fast-forward check failed", Err: err}
	}

	if !canFF {
		ahead, err := e.cfg.Git.IsLocalAheadOfRemote(ctx, e.cfg.BareDir, ew.path, ew.branch)
		if err == nil && ahead {
			e.log.Info("skipping, has unpushed commits, will not overwrite", "branch", ew.branch)
			return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "has unpushed commits, will not overwrite"}
		}

		sameTree, err := e.cfg.Git.CompareTreeContent(ctx, e.cfg.BareDir, ew.path, ew.branch)
		if err == nil && sameTree {
			return e.resetWorktree(ctx, ew, finalizeQueue)
		}

		record, ok, _ := e.cfg.Metadata.Load(ctx, ew.path, ew.branch)
		head, headErr := e.cfg.Git.GetCurrentCommit(ctx, ew.path)
		if headErr == nil && ok && head == record.LastSyncCommit {
			return e.resetWorktree(ctx, ew, finalizeQueue)
		}

		return e.quarantineWorktree(ctx, ew, finalizeQueue)
	}

	if e.cfg.UpdateExistingWorktrees && probe.IsClean {
		behind, err := e.isBehind(ctx, ew)
		if err == nil && behind {
			return e.updateWorktree(ctx, ew, finalizeQueue)
		}
	}

	return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "up to date"}
}

func (e *Engine) isBehind(ctx context.Context, ew existingWorktree) (bool, error) {
	head, err := e.cfg.Git.GetCurrentCommit(ctx, ew.path)
	if err != nil {
		return false, err
	}
	remoteCommit, err := e.cfg.Git.GetRemoteCommit(ctx, e.cfg.BareDir, ew.branch)
	if err != nil {
		return false, err
	}
	return head != remoteCommit, nil
}

func (e *Engine) updateWorktree(ctx context.Context, ew existingWorktree, finalizeQueue map[string]string) EntryResult {
	err := e.cfg.Limiter.Run(ctx, limiter.ClassWorktreeUpdate, func(ctx context.Context) error {
		return e.cfg.Git.UpdateWorktree(ctx, ew.path, ew.branch, e.cfg.SkipLFS)
	})
	if err != nil {
		return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "update failed", Err: err}
	}
	finalizeQueue[ew.path] = string(ActionUpdate)
	return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionUpdate}
}

func (e *Engine) resetWorktree(ctx context.Context, ew existingWorktree, finalizeQueue map[string]string) EntryResult {
	err := e.cfg.Limiter.Run(ctx, limiter.ClassWorktreeUpdate, func(ctx context.Context) error {
		return e.cfg.Git.ResetToUpstream(ctx, ew.path, ew.branch)
	})
	if err != nil {
		return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "reset failed", Err: err}
	}
	finalizeQueue[ew.path] = string(ActionReset)
	return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionReset}
}

// quarantineWorktree moves a genuinely diverged worktree out of the way
// under .diverged/, leaving its branch free for a fresh worktree in
// phase 5.
func (e *Engine) quarantineWorktree(ctx context.Context, ew existingWorktree, finalizeQueue map[string]string) EntryResult {
	dest := e.quarantineDestination(ew.branch)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "quarantine mkdir failed", Err: err}
	}

	err := e.cfg.Limiter.Run(ctx, limiter.ClassWorktreeRemoval, func(ctx context.Context) error {
		return e.cfg.Git.RemoveWorktree(ctx, e.cfg.BareDir, ew.path)
	})
	if err != nil {
		return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "quarantine remove failed", Err: err}
	}
	if err := moveDir(ew.path, dest); err != nil {
		return EntryResult{Branch: ew.branch, Path: ew.path, Action: ActionSkip, Reason: "quarantine move failed", Err: err}
	}

	e.log.Info("quarantined diverged worktree", "branch", ew.branch, "destination", dest)
	return EntryResult{Branch: ew.branch, Path: dest, Action: ActionQuarantine, Reason: "diverged from upstream"}
}

var invalidQuarantineChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// quarantineDestination builds `.diverged/<date>-<sanitized-branch>-<rand>/`.
// sanitized replaces "/" with "-" and anything else outside
// [A-Za-z0-9_-] with "_", keeping the directory name safe across
// filesystems regardless of what characters the branch name contains.
func (e *Engine) quarantineDestination(branch string) string {
	sanitized := strings.ReplaceAll(branch, "/", "-")
	sanitized = invalidQuarantineChars.ReplaceAllString(sanitized, "_")
	date := time.Now().Format("2006-01-02")
	suffix := uuid.NewString()[:6]
	return filepath.Join(e.cfg.WorktreeBase, ".diverged", fmt.Sprintf("%s-%s-%s", date, sanitized, suffix))
}

// moveDir renames src to dst, falling back to a recursive copy+delete
// when the rename fails across filesystems (EXDEV).
func moveDir(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyDir(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}

// lastSyncCommit reads the recorded lastSyncCommit for worktreePath, if
// any metadata exists yet, for use as the status probe's unpushed-commit
// base.
func (e *Engine) lastSyncCommit(ctx context.Context, worktreePath, branch string) string {
	record, ok, err := e.cfg.Metadata.Load(ctx, worktreePath, branch)
	if err != nil || !ok {
		return ""
	}
	return record.LastSyncCommit
}

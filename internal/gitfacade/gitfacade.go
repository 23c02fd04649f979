// Package gitfacade is a typed wrapper over the git binary, generalized
// from a single working-tree client into one that understands a bare
// repository plus any number of linked worktrees (component A).
package gitfacade

import (
	"context"
	"time"
)

// RemoteBranch is a branch discovered on the configured remote.
type RemoteBranch struct {
	Name         string // short name, "origin/" stripped
	LastActivity time.Time
}

// WorktreeRecord is one entry from `git worktree list --porcelain`.
type WorktreeRecord struct {
	AbsolutePath string
	Branch       string // empty when Detached
	Detached     bool
}

// BranchPresence reports where a branch name exists.
type BranchPresence struct {
	Local  bool
	Remote bool
}

// Git is the facade's full operation set (component A). All methods
// suspend on subprocess I/O and honor ctx cancellation.
type Git interface {
	// InitializeBare clones bareDir as a bare mirror of url if it does not
	// already exist (<bareDir>/HEAD absent), configures the fetch refspec,
	// fetches origin to populate refs/remotes/origin/*, ensures the
	// default-branch worktree, and returns the discovered
	// default branch name.
	InitializeBare(ctx context.Context, url, bareDir string) (defaultBranch string, err error)

	// FetchAll runs `fetch --all --prune`. When skipLFS is false and the
	// error is LFS-flagged, falls back to a per-branch fetch of remote
	// refs with GIT_LFS_SKIP_SMUDGE=1.
	FetchAll(ctx context.Context, bareDir string, skipLFS bool) error

	// ListRemoteBranches returns branch names with "origin/" stripped,
	// filtering HEAD, blanks, and refspec wildcards.
	ListRemoteBranches(ctx context.Context, bareDir string) ([]string, error)

	// ListRemoteBranchesWithActivity is ListRemoteBranches annotated with
	// each branch tip's committer date.
	ListRemoteBranchesWithActivity(ctx context.Context, bareDir string) ([]RemoteBranch, error)

	// ListWorktrees parses `worktree list --porcelain`, skipping detached
	// entries from the caller's perspective (Detached is still reported).
	ListWorktrees(ctx context.Context, bareDir string) ([]WorktreeRecord, error)

	// AddWorktree creates a worktree at path tracking branch. If branch
	// exists locally, adds with --track; otherwise creates it tracking
	// refs/remotes/origin/<branch>. Retries once after `worktree prune`
	// on an "already registered" error. Resolves path to absolute.
	AddWorktree(ctx context.Context, bareDir, branch, path string) error

	// RemoveWorktree runs `worktree remove <path> --force`. Callers must
	// have validated cleanliness first.
	RemoveWorktree(ctx context.Context, bareDir, path string) error

	// PruneWorktrees runs `worktree prune`.
	PruneWorktrees(ctx context.Context, bareDir string) error

	// CanFastForward reports whether HEAD at worktreePath is an ancestor
	// of (or equal to) origin/<branch>.
	CanFastForward(ctx context.Context, bareDir, worktreePath, branch string) (bool, error)

	// IsLocalAheadOfRemote reports whether HEAD strictly descends
	// origin/<branch>.
	IsLocalAheadOfRemote(ctx context.Context, bareDir, worktreePath, branch string) (bool, error)

	// CompareTreeContent reports whether HEAD and origin/<branch> point at
	// identical trees, regardless of commit history.
	CompareTreeContent(ctx context.Context, bareDir, worktreePath, branch string) (bool, error)

	// ResetToUpstream runs `reset --hard origin/<branch>`.
	ResetToUpstream(ctx context.Context, worktreePath, branch string) error

	// UpdateWorktree runs `merge --ff-only origin/<branch>`.
	UpdateWorktree(ctx context.Context, worktreePath, branch string, skipLFS bool) error

	// GetCurrentBranch returns the short branch name checked out at path,
	// or "HEAD" if detached.
	GetCurrentBranch(ctx context.Context, worktreePath string) (string, error)

	// GetCurrentCommit returns the SHA of HEAD at path.
	GetCurrentCommit(ctx context.Context, worktreePath string) (string, error)

	// GetRemoteCommit returns the SHA of origin/<branch>, read from the
	// bare repo for stability against concurrent worktree churn.
	GetRemoteCommit(ctx context.Context, bareDir, branch string) (string, error)

	// BranchExists reports whether name exists locally, remotely, or both.
	BranchExists(ctx context.Context, bareDir, name string) (BranchPresence, error)

	// CreateBranch creates a local branch from base (or the default branch
	// tip if base is empty).
	CreateBranch(ctx context.Context, bareDir, name, base string) error

	// PushBranch pushes name to origin.
	PushBranch(ctx context.Context, bareDir, name string) error
}

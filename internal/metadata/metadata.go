// Package metadata persists, per worktree, the sync bookkeeping the Sync
// Engine needs across passes: the commit it last synced to, the upstream
// branch it tracks, and a bounded history of what happened to it
// (component C).
package metadata

import (
	"context"
	"regexp"
	"time"
)

// historyLimit bounds syncHistory to its 10 most recent entries.
const historyLimit = 10

// Action labels one entry in a Record's history.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionFetched Action = "fetched"
)

// HistoryEntry is one bounded-deque entry in Record.SyncHistory.
type HistoryEntry struct {
	Date   time.Time `json:"date"`
	Commit string    `json:"commit"`
	Action Action    `json:"action"`
}

// CreatedFrom records the default-branch tip a worktree was branched from
// at creation time.
type CreatedFrom struct {
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

// Record is the persisted sync-metadata.json shape for one worktree.
type Record struct {
	LastSyncCommit string         `json:"lastSyncCommit"`
	LastSyncDate   time.Time      `json:"lastSyncDate"`
	UpstreamBranch string         `json:"upstreamBranch"`
	CreatedFrom    CreatedFrom    `json:"createdFrom"`
	SyncHistory    []HistoryEntry `json:"syncHistory"`
}

var hexCommitPattern = regexp.MustCompile(`^[0-9a-f]+$`)

// valid checks the shape invariants §4.C requires of a loaded record:
// a hex commit SHA, a non-zero date, and a non-empty upstream.
func (r Record) valid() bool {
	if !hexCommitPattern.MatchString(r.LastSyncCommit) {
		return false
	}
	if r.LastSyncDate.IsZero() {
		return false
	}
	if r.UpstreamBranch == "" {
		return false
	}
	return true
}

func (r Record) pushHistory(entry HistoryEntry) Record {
	history := append(append([]HistoryEntry{}, r.SyncHistory...), entry)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	r.SyncHistory = history
	return r
}

// Store persists per-worktree Records, keyed by worktree path.
//
// The file location is derived from the worktree path's basename (Git's
// own internal worktree admin-dir naming), not from the branch name, so
// slash-bearing branch names never leak into the filesystem layout.
type Store interface {
	Create(ctx context.Context, worktreePath, currentCommit, upstreamBranch, createdFromBranch, createdFromCommit string) (Record, error)
	// Load reads the record for worktreePath. If no record exists at the
	// basename-keyed path, it transparently checks the legacy
	// branch-keyed path for branch and migrates it forward before
	// returning, so callers never see the legacy layout.
	Load(ctx context.Context, worktreePath, branch string) (Record, bool, error)
	UpdateLastSync(ctx context.Context, worktreePath, newCommit string, action Action) (Record, error)
	Delete(ctx context.Context, worktreePath string) error
}

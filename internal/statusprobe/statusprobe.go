// Package statusprobe answers, for a single worktree path, the questions
// the Sync Engine needs before it can remove, reset, or quarantine it
// (component B).
package statusprobe

import "context"

// Result is the outcome of probing one worktree.
type Result struct {
	IsClean                bool
	HasUnpushedCommits     bool
	HasStashedChanges      bool
	HasOperationInProgress bool
	HasModifiedSubmodules  bool
	UpstreamGone           bool
	CanRemove              bool
	// Reasons lists, in a fixed order, the negative predicates that
	// contributed to CanRemove being false.
	Reasons []string
}

// DetailedResult adds file-level detail to Result, for diagnostics /
// `branchsync status -v` output.
type DetailedResult struct {
	Result
	ModifiedFiles   []string
	UntrackedFiles  []string
	StashCount      int
	UnpushedCommits int
}

// reasonOrder fixes the order Reasons are reported in, regardless of the
// order predicates were evaluated in.
var reasonOrder = []string{"dirty", "unpushed", "stash", "operation-in-progress", "submodules-modified"}

// Prober probes a worktree's status.
//
// lastSyncCommit, when non-empty, is used as the base for counting
// unpushed commits (lastSyncCommit..HEAD) instead of the default
// `branch --not --remotes` — the correct signal once the upstream
// branch itself has been deleted (e.g. after a squash-merge).
type Prober interface {
	Probe(ctx context.Context, worktreePath, branch, lastSyncCommit string) (Result, error)
	ProbeDetailed(ctx context.Context, worktreePath, branch, lastSyncCommit string) (DetailedResult, error)
}

// reasons builds the fixed-order Reasons list and the final CanRemove bit
// from the individual predicates.
func reasons(dirty, unpushed, stash, inProgress, submodulesModified bool) (bool, []string) {
	flags := map[string]bool{
		"dirty":                  dirty,
		"unpushed":               unpushed,
		"stash":                  stash,
		"operation-in-progress":  inProgress,
		"submodules-modified":    submodulesModified,
	}
	var out []string
	canRemove := true
	for _, name := range reasonOrder {
		if flags[name] {
			out = append(out, name)
			canRemove = false
		}
	}
	return canRemove, out
}

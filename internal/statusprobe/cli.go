package statusprobe

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	clog "github.com/charmbracelet/log"

	"github.com/jmcampanini/branchsync/internal/gitfacade"
)

// operationMarkers are files/directories under the git-dir whose presence
// indicates a merge/cherry-pick/revert/bisect/rebase is mid-flight.
var operationMarkers = []string{"MERGE_HEAD", "CHERRY_PICK_HEAD", "REVERT_HEAD", "BISECT_LOG", "rebase-merge", "rebase-apply"}

// CLIProber implements Prober by shelling out to git.
type CLIProber struct {
	log *clog.Logger
}

var _ Prober = &CLIProber{}

// New creates a CLIProber.
func New() *CLIProber {
	return &CLIProber{log: clog.Default().WithPrefix("statusprobe")}
}

func (p *CLIProber) Probe(ctx context.Context, worktreePath, branch, lastSyncCommit string) (Result, error) {
	detailed, err := p.ProbeDetailed(ctx, worktreePath, branch, lastSyncCommit)
	return detailed.Result, err
}

func (p *CLIProber) ProbeDetailed(ctx context.Context, worktreePath, branch, lastSyncCommit string) (DetailedResult, error) {
	detached := branch == "" || branch == "HEAD"

	modified, untracked, err := p.cleanliness(ctx, worktreePath)
	if err != nil {
		return DetailedResult{}, err
	}
	dirty := len(modified) > 0 || len(untracked) > 0

	var unpushedCount int
	if !detached {
		unpushedCount = p.unpushedCount(ctx, worktreePath, branch, lastSyncCommit)
	}

	stashCount, stashErr := p.stashCount(ctx, worktreePath)
	hasStash := stashCount > 0
	if stashErr != nil {
		// Conservative failure: if the stash probe itself errors, report
		// "has stash" — prefer preservation over deletion.
		p.log.Warn("stash probe failed, assuming stash present", "path", worktreePath, "error", stashErr)
		hasStash = true
	}

	inProgress := p.operationInProgress(ctx, worktreePath)
	submodulesModified := p.submodulesModified(ctx, worktreePath)

	var upstreamGone bool
	if !detached {
		upstreamGone = p.upstreamGone(ctx, worktreePath, branch)
	}

	canRemove, reasonList := reasons(dirty, unpushedCount > 0 && !detached, hasStash, inProgress, submodulesModified)

	result := Result{
		IsClean:                !dirty,
		HasUnpushedCommits:     unpushedCount > 0 && !detached,
		HasStashedChanges:      hasStash,
		HasOperationInProgress: inProgress,
		HasModifiedSubmodules:  submodulesModified,
		UpstreamGone:           upstreamGone,
		CanRemove:              canRemove,
		Reasons:                reasonList,
	}

	return DetailedResult{
		Result:          result,
		ModifiedFiles:   modified,
		UntrackedFiles:  untracked,
		StashCount:      stashCount,
		UnpushedCommits: unpushedCount,
	}, nil
}

// cleanliness returns tracked-modified paths and non-ignored untracked
// paths. Ignored untracked files never make the worktree dirty.
func (p *CLIProber) cleanliness(ctx context.Context, worktreePath string) (modified, untracked []string, err error) {
	// --branch puts a "## ..." header first, so the trimming Exec applies
	// to its output never eats the leading status column of an entry.
	out, runErr := gitfacade.Exec(ctx, worktreePath, "status", "--porcelain", "--branch", "--ignored=no")
	if runErr != nil {
		return nil, nil, runErr
	}
	if out == "" {
		return nil, nil, nil
	}

	var untrackedCandidates []string
	for _, line := range strings.Split(out, "\n") {
		if line == "" || strings.HasPrefix(line, "##") {
			continue
		}
		status := line[:2]
		path := strings.TrimSpace(line[3:])
		if status == "??" {
			untrackedCandidates = append(untrackedCandidates, path)
			continue
		}
		modified = append(modified, path)
	}

	if len(untrackedCandidates) == 0 {
		return modified, nil, nil
	}

	// consult check-ignore: anything it reports as ignored is dropped.
	ignored := p.checkIgnore(ctx, worktreePath, untrackedCandidates)
	for _, path := range untrackedCandidates {
		if !ignored[path] {
			untracked = append(untracked, path)
		}
	}
	return modified, untracked, nil
}

// checkIgnore runs `git check-ignore` against each candidate path and
// returns the set that git considers ignored.
func (p *CLIProber) checkIgnore(ctx context.Context, worktreePath string, paths []string) map[string]bool {
	ignored := make(map[string]bool, len(paths))
	for _, path := range paths {
		if _, err := gitfacade.Exec(ctx, worktreePath, "check-ignore", "-q", path); err == nil {
			ignored[path] = true
		}
	}
	return ignored
}

func (p *CLIProber) unpushedCount(ctx context.Context, worktreePath, branch, lastSyncCommit string) int {
	var out string
	var err error
	if lastSyncCommit != "" {
		out, err = gitfacade.Exec(ctx, worktreePath, "rev-list", "--count", lastSyncCommit+"..HEAD")
	} else {
		out, err = gitfacade.Exec(ctx, worktreePath, "rev-list", "--count", branch, "--not", "--remotes")
	}
	if err != nil {
		return 0
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil {
		return 0
	}
	return n
}

func (p *CLIProber) stashCount(ctx context.Context, worktreePath string) (int, error) {
	out, err := gitfacade.Exec(ctx, worktreePath, "stash", "list")
	if err != nil {
		return 0, err
	}
	if out == "" {
		return 0, nil
	}
	return len(strings.Split(out, "\n")), nil
}

// operationInProgress resolves the real git-dir (handling the case where
// .git is a file pointing at the bare repo's per-worktree admin dir) and
// probes for merge/cherry-pick/revert/bisect/rebase markers.
func (p *CLIProber) operationInProgress(ctx context.Context, worktreePath string) bool {
	gitDir, err := gitfacade.Exec(ctx, worktreePath, "rev-parse", "--git-dir")
	if err != nil {
		return false
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(worktreePath, gitDir)
	}

	for _, marker := range operationMarkers {
		if _, statErr := os.Stat(filepath.Join(gitDir, marker)); statErr == nil {
			return true
		}
	}
	return false
}

func (p *CLIProber) submodulesModified(ctx context.Context, worktreePath string) bool {
	out, err := gitfacade.Exec(ctx, worktreePath, "submodule", "status")
	if err != nil || out == "" {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case '+', '-':
			return true
		}
	}
	return false
}

// upstreamGone resolves branch@{upstream}; if that succeeds, checks the
// name is missing from `branch -r`. If it fails with a "no upstream"-like
// error, reads the configured upstream from git config (if any) and
// checks its presence. Returns false if no upstream is configured at all.
func (p *CLIProber) upstreamGone(ctx context.Context, worktreePath, branch string) bool {
	upstream, err := gitfacade.Exec(ctx, worktreePath, "rev-parse", "--abbrev-ref", branch+"@{upstream}")
	if err == nil {
		return !p.remoteBranchListed(ctx, worktreePath, upstream)
	}

	msg := err.Error()
	if !strings.Contains(msg, "no upstream") && !strings.Contains(msg, "ambiguous argument") && !strings.Contains(msg, "unknown revision") {
		return false
	}

	remote, rErr := gitfacade.Exec(ctx, worktreePath, "config", "--get", "branch."+branch+".remote")
	merge, mErr := gitfacade.Exec(ctx, worktreePath, "config", "--get", "branch."+branch+".merge")
	if rErr != nil || mErr != nil || remote == "" || merge == "" {
		return false
	}
	mergeBranch := strings.TrimPrefix(merge, "refs/heads/")
	configured := remote + "/" + mergeBranch
	return !p.remoteBranchListed(ctx, worktreePath, configured)
}

func (p *CLIProber) remoteBranchListed(ctx context.Context, worktreePath, fullName string) bool {
	out, err := gitfacade.Exec(ctx, worktreePath, "branch", "-r")
	if err != nil {
		return true // conservative: assume present if we can't check
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == fullName {
			return true
		}
	}
	return false
}

package gitfacade

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"
)

// defaultBranchCandidates is the fallback cascade used by InitializeBare
// when `symbolic-ref refs/remotes/origin/HEAD` is not set.
var defaultBranchCandidates = []string{"main", "master", "develop", "trunk"}

// CLI implements Git by shelling out to the git binary. It is safe for
// concurrent use: every method takes the working directory it needs as a
// parameter instead of fixing one at construction time, so one CLI value
// can serve a bare repo and all of its linked worktrees concurrently.
type CLI struct {
	log *clog.Logger
}

var _ Git = &CLI{}

// New creates a CLI that executes git commands via the "git" binary found
// on PATH.
func New() *CLI {
	return &CLI{log: clog.Default().WithPrefix("gitfacade")}
}

func (c *CLI) run(ctx context.Context, dir string, args ...string) (string, error) {
	c.log.Debug("executing git command", "args", args, "dir", dir)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), ctx.Err())
		}
		c.log.Debug("git command failed", "args", args, "stderr", stderr.String())
		return "", fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

func (c *CLI) runLFS(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_LFS_SKIP_SMUDGE=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (c *CLI) InitializeBare(ctx context.Context, url, bareDir string) (string, error) {
	if strings.TrimSpace(bareDir) == "" || strings.TrimSpace(bareDir) == "/" {
		return "", PathError(bareDir, "bare repository path must not be empty, whitespace, or root")
	}

	if _, err := os.Stat(filepath.Join(bareDir, "HEAD")); err != nil {
		if err := os.MkdirAll(filepath.Dir(bareDir), 0o755); err != nil {
			return "", Wrap("create bare repo parent", err)
		}
		if _, err := c.run(ctx, "", "clone", "--bare", url, bareDir); err != nil {
			return "", Wrap("clone --bare", err)
		}
	}

	if _, err := c.run(ctx, bareDir, "config", "remote.origin.fetch", "+refs/heads/*:refs/remotes/origin/*"); err != nil {
		return "", Wrap("configure fetch refspec", err)
	}
	if _, err := c.run(ctx, bareDir, "fetch", "origin"); err != nil {
		return "", Wrap("fetch origin", err)
	}

	branch, err := c.discoverDefaultBranch(ctx, bareDir)
	if err != nil {
		return "", err
	}

	defaultWorktree := filepath.Join(bareDir, branch)
	if _, statErr := os.Stat(filepath.Join(defaultWorktree, ".git")); statErr != nil {
		if _, err := c.run(ctx, bareDir, "worktree", "add", defaultWorktree, "refs/remotes/origin/"+branch); err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				return "", Wrap("create default-branch worktree", err)
			}
		}
	}

	return branch, nil
}

func (c *CLI) discoverDefaultBranch(ctx context.Context, bareDir string) (string, error) {
	if out, err := c.run(ctx, bareDir, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		return strings.TrimPrefix(out, "refs/remotes/origin/"), nil
	}

	for _, candidate := range defaultBranchCandidates {
		if _, err := c.run(ctx, bareDir, "rev-parse", "--verify", "refs/remotes/origin/"+candidate); err == nil {
			return candidate, nil
		}
	}

	return "", Wrap("discover default branch", fmt.Errorf("no symbolic-ref and none of %v exist on origin", defaultBranchCandidates))
}

func (c *CLI) FetchAll(ctx context.Context, bareDir string, skipLFS bool) error {
	_, err := c.run(ctx, bareDir, "fetch", "--all", "--prune")
	if err == nil {
		return nil
	}

	wrapped := classify("fetch --all", err)
	gfErr, ok := wrapped.(*Error)
	if !ok || gfErr.Kind != KindLFS || skipLFS {
		return wrapped
	}

	c.log.Warn("fetch --all hit an LFS error, falling back to per-branch fetch", "error", err)
	branches, listErr := c.ListRemoteBranches(ctx, bareDir)
	if listErr != nil {
		return wrapped
	}
	for _, b := range branches {
		refspec := fmt.Sprintf("refs/heads/%s:refs/remotes/origin/%s", b, b)
		if _, err := c.runLFS(ctx, bareDir, "fetch", "origin", refspec); err != nil {
			c.log.Warn("per-branch LFS-skip fetch failed", "branch", b, "error", err)
		}
	}
	return nil
}

func (c *CLI) ListRemoteBranches(ctx context.Context, bareDir string) ([]string, error) {
	withActivity, err := c.ListRemoteBranchesWithActivity(ctx, bareDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(withActivity))
	for _, b := range withActivity {
		names = append(names, b.Name)
	}
	return names, nil
}

func (c *CLI) ListRemoteBranchesWithActivity(ctx context.Context, bareDir string) ([]RemoteBranch, error) {
	format := "ref %(refname:short)\ncommitted %(committerdate:iso-strict)\n"
	out, err := c.run(ctx, bareDir, "for-each-ref", "--format="+format, "refs/remotes/origin/")
	if err != nil {
		return nil, Wrap("list remote branches", err)
	}
	if out == "" {
		return []RemoteBranch{}, nil
	}

	var branches []RemoteBranch
	for _, block := range splitIntoBlocks(out) {
		var name string
		var committed time.Time
		for _, line := range block {
			switch {
			case strings.HasPrefix(line, "ref "):
				ref := strings.TrimPrefix(line, "ref ")
				name = strings.TrimPrefix(ref, "origin/")
			case strings.HasPrefix(line, "committed "):
				committed = parseISO8601(strings.TrimPrefix(line, "committed "))
			}
		}
		if isExcludedBranchName(name) {
			continue
		}
		branches = append(branches, RemoteBranch{Name: name, LastActivity: committed})
	}
	return branches, nil
}

// isExcludedBranchName filters HEAD, origin, empty names, or names
// containing refspec wildcards.
func isExcludedBranchName(name string) bool {
	if name == "" || name == "HEAD" || name == "origin" {
		return true
	}
	return strings.Contains(name, "*")
}

func (c *CLI) ListWorktrees(ctx context.Context, bareDir string) ([]WorktreeRecord, error) {
	out, err := c.run(ctx, bareDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, Wrap("list worktrees", err)
	}
	if out == "" {
		return []WorktreeRecord{}, nil
	}

	var records []WorktreeRecord
	for _, block := range splitIntoBlocks(out) {
		var path, branch string
		var detached, bare bool
		for _, line := range block {
			switch {
			case strings.HasPrefix(line, "worktree "):
				path = strings.TrimPrefix(line, "worktree ")
			case strings.HasPrefix(line, "branch "):
				ref := strings.TrimPrefix(line, "branch ")
				branch = strings.TrimPrefix(ref, "refs/heads/")
			case line == "detached":
				detached = true
			case strings.HasPrefix(line, "bare"):
				bare = true
			}
		}
		if bare || path == "" {
			continue
		}
		records = append(records, WorktreeRecord{AbsolutePath: path, Branch: branch, Detached: detached})
	}
	return records, nil
}

func (c *CLI) AddWorktree(ctx context.Context, bareDir, branch, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return PathError(path, err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return Wrap("create worktree parent dir", err)
	}

	presence, err := c.BranchExists(ctx, bareDir, branch)
	if err != nil {
		return err
	}

	addErr := c.addWorktree(ctx, bareDir, branch, absPath, presence)
	if addErr == nil {
		return nil
	}

	wrapped := classify("worktree add", addErr)
	ge, ok := wrapped.(*Error)
	switch {
	case ok && ge.Kind == KindWorktreePathExists:
		// A stray non-worktree directory is already at absPath; pruning
		// the bare repo's registry does nothing for it, so remove the
		// remnant directly before retrying.
		if cleanErr := c.cleanOrphanPath(absPath); cleanErr == nil {
			addErr = c.addWorktree(ctx, bareDir, branch, absPath, presence)
		}
	case ok && ge.Kind == KindWorktreeAlreadyRegistered:
		// The registry has a stale entry for absPath; prune it and retry.
		if _, pruneErr := c.run(ctx, bareDir, "worktree", "prune"); pruneErr == nil {
			addErr = c.addWorktree(ctx, bareDir, branch, absPath, presence)
		}
	}
	if addErr == nil {
		return nil
	}
	return classify("worktree add", addErr)
}

func (c *CLI) addWorktree(ctx context.Context, bareDir, branch, absPath string, presence BranchPresence) error {
	if presence.Local {
		_, err := c.run(ctx, bareDir, "worktree", "add", "--track", absPath, branch)
		return err
	}
	_, err := c.run(ctx, bareDir, "worktree", "add", "--track", "-b", branch, absPath, "refs/remotes/origin/"+branch)
	return err
}

// cleanOrphanPath removes a stray directory at path before a retried
// worktree add, but only when it holds no real worktree state: absent,
// empty, or lacking a .git entry that resolves to a live gitdir. A real
// worktree caught by a concurrent race is left alone instead of deleted.
func (c *CLI) cleanOrphanPath(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(entries) == 0 {
		return os.RemoveAll(path)
	}

	gitPath := filepath.Join(path, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		if os.IsNotExist(err) {
			return os.RemoveAll(path)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("refusing to remove %s: contains a real .git directory", path)
	}

	data, err := os.ReadFile(gitPath)
	if err != nil {
		return err
	}
	const prefix = "gitdir:"
	line := strings.TrimSpace(string(data))
	if strings.HasPrefix(line, prefix) {
		target := strings.TrimSpace(strings.TrimPrefix(line, prefix))
		if !filepath.IsAbs(target) {
			target = filepath.Join(path, target)
		}
		if st, statErr := os.Stat(target); statErr == nil && st.IsDir() {
			return fmt.Errorf("refusing to remove %s: resolves to a live worktree gitdir", path)
		}
	}
	return os.RemoveAll(path)
}

func (c *CLI) RemoveWorktree(ctx context.Context, bareDir, path string) error {
	_, err := c.run(ctx, bareDir, "worktree", "remove", path, "--force")
	return Wrap("worktree remove", err)
}

func (c *CLI) PruneWorktrees(ctx context.Context, bareDir string) error {
	_, err := c.run(ctx, bareDir, "worktree", "prune")
	return Wrap("worktree prune", err)
}

func (c *CLI) CanFastForward(ctx context.Context, bareDir, worktreePath, branch string) (bool, error) {
	head, err := c.GetCurrentCommit(ctx, worktreePath)
	if err != nil {
		return false, err
	}
	upstream, err := c.GetRemoteCommit(ctx, bareDir, branch)
	if err != nil {
		return false, err
	}
	if head == upstream {
		return true, nil
	}

	out, err := c.run(ctx, worktreePath, "merge-base", head, upstream)
	if err != nil {
		return false, Wrap("merge-base", err)
	}
	return out == head, nil
}

func (c *CLI) IsLocalAheadOfRemote(ctx context.Context, bareDir, worktreePath, branch string) (bool, error) {
	head, err := c.GetCurrentCommit(ctx, worktreePath)
	if err != nil {
		return false, err
	}
	upstream, err := c.GetRemoteCommit(ctx, bareDir, branch)
	if err != nil {
		return false, err
	}
	if head == upstream {
		return false, nil
	}
	out, err := c.run(ctx, worktreePath, "merge-base", head, upstream)
	if err != nil {
		return false, Wrap("merge-base", err)
	}
	// HEAD strictly descends upstream iff upstream is an ancestor of HEAD
	// (merge-base(head, upstream) == upstream) and they differ.
	return out == upstream, nil
}

func (c *CLI) CompareTreeContent(ctx context.Context, bareDir, worktreePath, branch string) (bool, error) {
	localTree, err := c.run(ctx, worktreePath, "rev-parse", "HEAD^{tree}")
	if err != nil {
		return false, Wrap("rev-parse local tree", err)
	}
	remoteTree, err := c.run(ctx, bareDir, "rev-parse", "origin/"+branch+"^{tree}")
	if err != nil {
		return false, Wrap("rev-parse remote tree", err)
	}
	return localTree == remoteTree, nil
}

func (c *CLI) ResetToUpstream(ctx context.Context, worktreePath, branch string) error {
	_, err := c.run(ctx, worktreePath, "reset", "--hard", "origin/"+branch)
	return Wrap("reset --hard", err)
}

func (c *CLI) UpdateWorktree(ctx context.Context, worktreePath, branch string, skipLFS bool) error {
	var out string
	var err error
	if skipLFS {
		out, err = c.runLFS(ctx, worktreePath, "merge", "--ff-only", "origin/"+branch)
	} else {
		out, err = c.run(ctx, worktreePath, "merge", "--ff-only", "origin/"+branch)
	}
	if err != nil {
		if strings.Contains(out, "Not possible to fast-forward") || strings.Contains(err.Error(), "Not possible to fast-forward") {
			return &Error{Kind: KindFastForwardImpossible, Op: "merge --ff-only", Branch: branch, Err: err}
		}
		return classify("merge --ff-only", err)
	}
	return nil
}

func (c *CLI) GetCurrentBranch(ctx context.Context, worktreePath string) (string, error) {
	out, err := c.run(ctx, worktreePath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", Wrap("get current branch", err)
	}
	return out, nil
}

func (c *CLI) GetCurrentCommit(ctx context.Context, worktreePath string) (string, error) {
	out, err := c.run(ctx, worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return "", Wrap("get current commit", err)
	}
	return out, nil
}

func (c *CLI) GetRemoteCommit(ctx context.Context, bareDir, branch string) (string, error) {
	out, err := c.run(ctx, bareDir, "rev-parse", "refs/remotes/origin/"+branch)
	if err != nil {
		return "", Wrap("get remote commit", err)
	}
	return out, nil
}

func (c *CLI) BranchExists(ctx context.Context, bareDir, name string) (BranchPresence, error) {
	var presence BranchPresence
	if _, err := c.run(ctx, bareDir, "rev-parse", "--verify", "refs/heads/"+name); err == nil {
		presence.Local = true
	}
	if _, err := c.run(ctx, bareDir, "rev-parse", "--verify", "refs/remotes/origin/"+name); err == nil {
		presence.Remote = true
	}
	return presence, nil
}

func (c *CLI) CreateBranch(ctx context.Context, bareDir, name, base string) error {
	args := []string{"branch", name}
	if base != "" {
		args = append(args, base)
	}
	_, err := c.run(ctx, bareDir, args...)
	return Wrap("create branch", err)
}

func (c *CLI) PushBranch(ctx context.Context, bareDir, name string) error {
	_, err := c.run(ctx, bareDir, "push", "origin", name)
	return Wrap("push branch", err)
}

// splitIntoBlocks splits porcelain/for-each-ref output into blocks
// separated by blank lines. Each block is a slice of non-empty lines.
func splitIntoBlocks(output string) [][]string {
	var blocks [][]string
	var current []string

	for _, line := range strings.Split(output, "\n") {
		if line != "" {
			current = append(current, line)
			continue
		}
		if len(current) > 0 {
			blocks = append(blocks, current)
			current = nil
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

func parseISO8601(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

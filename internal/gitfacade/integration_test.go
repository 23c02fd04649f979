package gitfacade

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// runGit runs a real git command in dir, failing the test on error.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
	return string(out)
}

// newRemoteAndBare builds a non-bare "remote" repo with a main branch and
// commit, then clones it bare into bareDir via the CLI under test.
func newRemoteAndBare(t *testing.T) (remoteDir, bareDir string, cli *CLI) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	remoteDir = t.TempDir()
	runGit(t, remoteDir, "init", "-b", "main")
	runGit(t, remoteDir, "config", "user.email", "test@example.com")
	runGit(t, remoteDir, "config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(remoteDir, "README.md"), []byte("hello"), 0o644))
	runGit(t, remoteDir, "add", ".")
	runGit(t, remoteDir, "commit", "-m", "initial")
	runGit(t, remoteDir, "checkout", "-b", "feat/one")
	require.NoError(t, os.WriteFile(filepath.Join(remoteDir, "feat.txt"), []byte("feat"), 0o644))
	runGit(t, remoteDir, "add", ".")
	runGit(t, remoteDir, "commit", "-m", "feat work")
	runGit(t, remoteDir, "checkout", "main")

	workDir := t.TempDir()
	bareDir = filepath.Join(workDir, ".bare")

	cli = New()
	_, err := cli.InitializeBare(context.Background(), remoteDir, bareDir)
	require.NoError(t, err)
	return remoteDir, bareDir, cli
}

func TestInitializeBare_DiscoversDefaultBranch(t *testing.T) {
	_, bareDir, cli := newRemoteAndBare(t)

	branch, err := cli.discoverDefaultBranch(context.Background(), bareDir)
	require.NoError(t, err)
	require.Equal(t, "main", branch)
}

func TestInitializeBare_RejectsEmptyPath(t *testing.T) {
	cli := New()
	_, err := cli.InitializeBare(context.Background(), "https://example.com/repo.git", "")
	require.Error(t, err)
	var gfErr *Error
	require.ErrorAs(t, err, &gfErr)
	require.Equal(t, KindPathResolution, gfErr.Kind)
}

func TestListRemoteBranches(t *testing.T) {
	_, bareDir, cli := newRemoteAndBare(t)

	branches, err := cli.ListRemoteBranches(context.Background(), bareDir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"main", "feat/one"}, branches)
}

func TestAddWorktree_ForRemoteBranch(t *testing.T) {
	_, bareDir, cli := newRemoteAndBare(t)

	wtPath := filepath.Join(filepath.Dir(bareDir), "feat", "one")
	err := cli.AddWorktree(context.Background(), bareDir, "feat/one", wtPath)
	require.NoError(t, err)

	records, err := cli.ListWorktrees(context.Background(), bareDir)
	require.NoError(t, err)

	var found bool
	for _, r := range records {
		if r.Branch == "feat/one" {
			found = true
		}
	}
	require.True(t, found)
}

func TestCanFastForward_TrueWhenBehind(t *testing.T) {
	_, bareDir, cli := newRemoteAndBare(t)

	wtPath := filepath.Join(filepath.Dir(bareDir), "feat", "one")
	require.NoError(t, cli.AddWorktree(context.Background(), bareDir, "feat/one", wtPath))

	// Roll local back one commit behind its own upstream snapshot.
	runGit(t, wtPath, "reset", "--hard", "HEAD^")

	canFF, err := cli.CanFastForward(context.Background(), bareDir, wtPath, "feat/one")
	require.NoError(t, err)
	require.True(t, canFF)
}

func TestIsLocalAheadOfRemote_TrueForNewLocalCommit(t *testing.T) {
	_, bareDir, cli := newRemoteAndBare(t)

	wtPath := filepath.Join(filepath.Dir(bareDir), "feat", "one")
	require.NoError(t, cli.AddWorktree(context.Background(), bareDir, "feat/one", wtPath))

	require.NoError(t, os.WriteFile(filepath.Join(wtPath, "local.txt"), []byte("local"), 0o644))
	runGit(t, wtPath, "add", ".")
	runGit(t, wtPath, "commit", "-m", "local only")

	ahead, err := cli.IsLocalAheadOfRemote(context.Background(), bareDir, wtPath, "feat/one")
	require.NoError(t, err)
	require.True(t, ahead)
}

func TestCompareTreeContent_TrueForIdenticalTrees(t *testing.T) {
	_, bareDir, cli := newRemoteAndBare(t)

	wtPath := filepath.Join(filepath.Dir(bareDir), "feat", "one")
	require.NoError(t, cli.AddWorktree(context.Background(), bareDir, "feat/one", wtPath))

	same, err := cli.CompareTreeContent(context.Background(), bareDir, wtPath, "feat/one")
	require.NoError(t, err)
	require.True(t, same)
}

func TestBranchExists(t *testing.T) {
	_, bareDir, cli := newRemoteAndBare(t)

	presence, err := cli.BranchExists(context.Background(), bareDir, "feat/one")
	require.NoError(t, err)
	require.True(t, presence.Remote)
	require.True(t, presence.Local)
}

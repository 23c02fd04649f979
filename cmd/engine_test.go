package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcampanini/branchsync/internal/config"
	"github.com/jmcampanini/branchsync/internal/gitfacade"
	"github.com/jmcampanini/branchsync/internal/statusprobe"
)

func TestRepoName_PrefersWorktreeDir(t *testing.T) {
	assert.Equal(t, "/ws/repo", repoName(config.RepositoryConfig{RepoURL: "git@example.com:repo.git", WorktreeDir: "/ws/repo"}))
}

func TestRepoName_FallsBackToRepoURL(t *testing.T) {
	assert.Equal(t, "git@example.com:repo.git", repoName(config.RepositoryConfig{RepoURL: "git@example.com:repo.git"}))
}

func TestBuildEngine_AppliesParallelismAndRetryConfig(t *testing.T) {
	repoCfg := config.RepositoryConfig{
		RepoURL:      "git@example.com:repo.git",
		WorktreeDir:  t.TempDir(),
		BareRepoDir:  filepath.Join(t.TempDir(), ".bare"),
		BranchMaxAge: "30d",
		Retry: config.RetryConfig{
			MaxAttempts:       "5",
			MaxLFSRetries:     2,
			InitialDelayMs:    100,
			MaxDelayMs:        1000,
			BackoffMultiplier: 2,
		},
		Parallelism: config.ParallelismConfig{
			MaxRepositories:     1,
			MaxWorktreeCreation: 2,
			MaxWorktreeUpdates:  2,
			MaxWorktreeRemoval:  1,
			MaxStatusChecks:     4,
		},
	}

	engine, err := buildEngine(repoCfg, gitfacade.New(), statusprobe.New())
	require.NoError(t, err)
	require.NotNil(t, engine)
}

func TestBuildEngine_UnlimitedRetryLeavesMaxAttemptsZero(t *testing.T) {
	repoCfg := config.RepositoryConfig{
		RepoURL:     "git@example.com:repo.git",
		WorktreeDir: t.TempDir(),
		BareRepoDir: filepath.Join(t.TempDir(), ".bare"),
		Retry:       config.RetryConfig{MaxAttempts: "unlimited"},
		Parallelism: config.ParallelismConfig{MaxRepositories: 1, MaxWorktreeCreation: 1, MaxWorktreeUpdates: 1, MaxWorktreeRemoval: 1, MaxStatusChecks: 1},
	}

	engine, err := buildEngine(repoCfg, gitfacade.New(), statusprobe.New())
	require.NoError(t, err)
	require.NotNil(t, engine)
}

func TestBuildEngine_RejectsInvalidBranchMaxAge(t *testing.T) {
	repoCfg := config.RepositoryConfig{
		RepoURL:      "git@example.com:repo.git",
		WorktreeDir:  t.TempDir(),
		BareRepoDir:  filepath.Join(t.TempDir(), ".bare"),
		BranchMaxAge: "not-a-duration",
		Parallelism:  config.ParallelismConfig{MaxRepositories: 1, MaxWorktreeCreation: 1, MaxWorktreeUpdates: 1, MaxWorktreeRemoval: 1, MaxStatusChecks: 1},
	}

	_, err := buildEngine(repoCfg, gitfacade.New(), statusprobe.New())
	require.Error(t, err)
}

func TestLoadConfig_ReadsExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "branchsync.toml")
	contents := `
[[repository]]
repo_url = "git@example.com:repo.git"
worktree_dir = "` + filepath.Join(dir, "worktrees") + `"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Repositories, 1)
	assert.Equal(t, "git@example.com:repo.git", cfg.Repositories[0].RepoURL)
}

func TestLoadConfig_MissingFileErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestBuildEngine_ZeroParallelismUsesLimiterDefaults(t *testing.T) {
	repoCfg := config.RepositoryConfig{
		RepoURL:     "git@example.com:repo.git",
		WorktreeDir: t.TempDir(),
		BareRepoDir: filepath.Join(t.TempDir(), ".bare"),
	}

	engine, err := buildEngine(repoCfg, gitfacade.New(), statusprobe.New())
	require.NoError(t, err)
	require.NotNil(t, engine)
}

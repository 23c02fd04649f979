package supervisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcampanini/branchsync/internal/config"
	"github.com/jmcampanini/branchsync/internal/gitfacade"
	"github.com/jmcampanini/branchsync/internal/limiter"
	"github.com/jmcampanini/branchsync/internal/metadata"
	"github.com/jmcampanini/branchsync/internal/retry"
	"github.com/jmcampanini/branchsync/internal/statusprobe"
	"github.com/jmcampanini/branchsync/internal/syncengine"
)

// noopGit is a minimal Git double: every branch/worktree set is empty,
// so a Sync pass completes immediately with nothing to do.
type noopGit struct {
	blockUntil chan struct{} // if non-nil, FetchAll blocks until closed
}

func (g *noopGit) InitializeBare(ctx context.Context, url, bareDir string) (string, error) {
	return "main", nil
}
func (g *noopGit) FetchAll(ctx context.Context, bareDir string, skipLFS bool) error {
	if g.blockUntil != nil {
		<-g.blockUntil
	}
	return nil
}
func (g *noopGit) ListRemoteBranches(ctx context.Context, bareDir string) ([]string, error) {
	return nil, nil
}
func (g *noopGit) ListRemoteBranchesWithActivity(ctx context.Context, bareDir string) ([]gitfacade.RemoteBranch, error) {
	return nil, nil
}
func (g *noopGit) ListWorktrees(ctx context.Context, bareDir string) ([]gitfacade.WorktreeRecord, error) {
	return nil, nil
}
func (g *noopGit) AddWorktree(ctx context.Context, bareDir, branch, path string) error { return nil }
func (g *noopGit) RemoveWorktree(ctx context.Context, bareDir, path string) error      { return nil }
func (g *noopGit) PruneWorktrees(ctx context.Context, bareDir string) error            { return nil }
func (g *noopGit) CanFastForward(ctx context.Context, bareDir, worktreePath, branch string) (bool, error) {
	return true, nil
}
func (g *noopGit) IsLocalAheadOfRemote(ctx context.Context, bareDir, worktreePath, branch string) (bool, error) {
	return false, nil
}
func (g *noopGit) CompareTreeContent(ctx context.Context, bareDir, worktreePath, branch string) (bool, error) {
	return true, nil
}
func (g *noopGit) ResetToUpstream(ctx context.Context, worktreePath, branch string) error { return nil }
func (g *noopGit) UpdateWorktree(ctx context.Context, worktreePath, branch string, skipLFS bool) error {
	return nil
}
func (g *noopGit) GetCurrentBranch(ctx context.Context, worktreePath string) (string, error) {
	return "main", nil
}
func (g *noopGit) GetCurrentCommit(ctx context.Context, worktreePath string) (string, error) {
	return "", nil
}
func (g *noopGit) GetRemoteCommit(ctx context.Context, bareDir, branch string) (string, error) {
	return "", nil
}
func (g *noopGit) BranchExists(ctx context.Context, bareDir, name string) (gitfacade.BranchPresence, error) {
	return gitfacade.BranchPresence{}, nil
}
func (g *noopGit) CreateBranch(ctx context.Context, bareDir, name, base string) error { return nil }
func (g *noopGit) PushBranch(ctx context.Context, bareDir, name string) error         { return nil }

var _ gitfacade.Git = &noopGit{}

type noopProber struct{}

func (noopProber) Probe(ctx context.Context, worktreePath, branch, lastSyncCommit string) (statusprobe.Result, error) {
	return statusprobe.Result{IsClean: true}, nil
}
func (noopProber) ProbeDetailed(ctx context.Context, worktreePath, branch, lastSyncCommit string) (statusprobe.DetailedResult, error) {
	return statusprobe.DetailedResult{}, nil
}

var _ statusprobe.Prober = noopProber{}

type noopStore struct{}

func (noopStore) Create(ctx context.Context, worktreePath, currentCommit, upstreamBranch, createdFromBranch, createdFromCommit string) (metadata.Record, error) {
	return metadata.Record{}, nil
}
func (noopStore) Load(ctx context.Context, worktreePath, branch string) (metadata.Record, bool, error) {
	return metadata.Record{}, false, nil
}
func (noopStore) UpdateLastSync(ctx context.Context, worktreePath, newCommit string, action metadata.Action) (metadata.Record, error) {
	return metadata.Record{}, nil
}
func (noopStore) Delete(ctx context.Context, worktreePath string) error { return nil }

var _ metadata.Store = noopStore{}

func newTestEngine(t *testing.T, git gitfacade.Git) *syncengine.Engine {
	t.Helper()
	base := t.TempDir()
	lim, err := limiter.New(limiter.Config{})
	require.NoError(t, err)
	e := syncengine.New(syncengine.Config{
		RepoURL:      "https://example.com/repo.git",
		BareDir:      filepath.Join(base, ".bare"),
		WorktreeBase: base,
		Git:          git,
		Prober:       noopProber{},
		Metadata:     noopStore{},
		Limiter:      lim,
		Retry:        retry.Options{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	require.NoError(t, e.Initialize(context.Background()))
	return e
}

func TestRegister_RejectsDuplicateName(t *testing.T) {
	s := New(nil, 0)
	e := newTestEngine(t, &noopGit{})
	require.NoError(t, s.Register("repo", e, ""))
	require.Error(t, s.Register("repo", e, ""))
}

func TestSyncOne_RunsRegisteredEngine(t *testing.T) {
	s := New(nil, 0)
	e := newTestEngine(t, &noopGit{})
	require.NoError(t, s.Register("repo", e, ""))

	require.NoError(t, s.SyncOne(context.Background(), "repo"))

	result, lastRun, err := s.LastResult("repo")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.False(t, lastRun.IsZero())
}

func TestSyncOne_UnknownNameErrors(t *testing.T) {
	s := New(nil, 0)
	require.Error(t, s.SyncOne(context.Background(), "missing"))
}

func TestSyncAll_RunsEveryEngineConcurrently(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Register("a", newTestEngine(t, &noopGit{}), ""))
	require.NoError(t, s.Register("b", newTestEngine(t, &noopGit{}), ""))

	errs := s.SyncAll(context.Background())
	require.Empty(t, errs)

	_, _, err := s.LastResult("a")
	require.NoError(t, err)
	_, _, err = s.LastResult("b")
	require.NoError(t, err)
}

func TestSyncOne_SkipsWhenAlreadyInProgress(t *testing.T) {
	s := New(nil, 0)
	block := make(chan struct{})
	git := &noopGit{blockUntil: block}
	e := newTestEngine(t, git)
	require.NoError(t, s.Register("repo", e, ""))

	done := make(chan struct{})
	go func() {
		_ = s.SyncOne(context.Background(), "repo")
		close(done)
	}()

	require.Eventually(t, func() bool { return s.IsAnyInProgress() }, time.Second, time.Millisecond)

	require.NoError(t, s.SyncOne(context.Background(), "repo")) // observes in-progress, skips, returns nil
	close(block)
	<-done
}

func TestWaitForQuiescence_ReturnsOnceEnginesIdle(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Register("repo", newTestEngine(t, &noopGit{}), ""))
	require.NoError(t, s.SyncOne(context.Background(), "repo"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.WaitForQuiescence(ctx))
}

func TestReload_RebuildsEngineAndSchedule(t *testing.T) {
	s := New(nil, 0)
	e := newTestEngine(t, &noopGit{})
	require.NoError(t, s.Register("repo", e, "*/5 * * * *"))

	rebuilt := newTestEngine(t, &noopGit{})
	cfg := config.Config{Repositories: []config.RepositoryConfig{{RepoURL: "repo", CronSchedule: "0 * * * *"}}}

	err := s.Reload(context.Background(), cfg, func(r config.RepositoryConfig) string { return r.RepoURL },
		func(r config.RepositoryConfig) (*syncengine.Engine, error) { return rebuilt, nil }, false)
	require.NoError(t, err)

	me := s.find("repo")
	require.NotNil(t, me)
	require.Equal(t, "0 * * * *", me.schedule)
	require.True(t, me.hasEntry)
}

func TestReload_AddsEngineNotYetRegistered(t *testing.T) {
	s := New(nil, 0)
	fresh := newTestEngine(t, &noopGit{})
	cfg := config.Config{Repositories: []config.RepositoryConfig{{RepoURL: "new-repo"}}}

	err := s.Reload(context.Background(), cfg, func(r config.RepositoryConfig) string { return r.RepoURL },
		func(r config.RepositoryConfig) (*syncengine.Engine, error) { return fresh, nil }, false)
	require.NoError(t, err)
	require.Contains(t, s.Names(), "new-repo")
}

func TestNames_ReturnsRegistrationOrder(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Register("first", newTestEngine(t, &noopGit{}), ""))
	require.NoError(t, s.Register("second", newTestEngine(t, &noopGit{}), ""))
	require.Equal(t, []string{"first", "second"}, s.Names())
}

package syncengine

import (
	"context"
	"sync"

	"github.com/jmcampanini/branchsync/internal/gitfacade"
	"github.com/jmcampanini/branchsync/internal/metadata"
	"github.com/jmcampanini/branchsync/internal/statusprobe"
)

// fakeGit is an in-memory Git facade double for exercising the Sync
// Engine's decision tree without a real git binary.
type fakeGit struct {
	mu sync.Mutex

	defaultBranch   string
	remoteBranches  map[string]gitfacade.RemoteBranch
	worktrees       map[string]gitfacade.WorktreeRecord // path -> record
	currentCommit   map[string]string                   // path -> HEAD
	remoteCommit    map[string]string                   // branch -> commit
	canFastForward  map[string]bool                      // path -> bool
	isAhead         map[string]bool
	sameTree        map[string]bool
	addWorktreeErr  map[string]error
	removed         map[string]bool
	reset           map[string]bool
	updated         map[string]bool
	created         map[string]bool
}

func newFakeGit(defaultBranch string) *fakeGit {
	return &fakeGit{
		defaultBranch:  defaultBranch,
		remoteBranches: map[string]gitfacade.RemoteBranch{},
		worktrees:      map[string]gitfacade.WorktreeRecord{},
		currentCommit:  map[string]string{},
		remoteCommit:   map[string]string{},
		canFastForward: map[string]bool{},
		isAhead:        map[string]bool{},
		sameTree:       map[string]bool{},
		addWorktreeErr: map[string]error{},
		removed:        map[string]bool{},
		reset:          map[string]bool{},
		updated:        map[string]bool{},
		created:        map[string]bool{},
	}
}

func (g *fakeGit) InitializeBare(ctx context.Context, url, bareDir string) (string, error) {
	return g.defaultBranch, nil
}

func (g *fakeGit) FetchAll(ctx context.Context, bareDir string, skipLFS bool) error { return nil }

func (g *fakeGit) ListRemoteBranches(ctx context.Context, bareDir string) ([]string, error) {
	names := make([]string, 0, len(g.remoteBranches))
	for n := range g.remoteBranches {
		names = append(names, n)
	}
	return names, nil
}

func (g *fakeGit) ListRemoteBranchesWithActivity(ctx context.Context, bareDir string) ([]gitfacade.RemoteBranch, error) {
	out := make([]gitfacade.RemoteBranch, 0, len(g.remoteBranches))
	for _, b := range g.remoteBranches {
		out = append(out, b)
	}
	return out, nil
}

func (g *fakeGit) ListWorktrees(ctx context.Context, bareDir string) ([]gitfacade.WorktreeRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]gitfacade.WorktreeRecord, 0, len(g.worktrees))
	for _, r := range g.worktrees {
		out = append(out, r)
	}
	return out, nil
}

func (g *fakeGit) AddWorktree(ctx context.Context, bareDir, branch, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.addWorktreeErr[branch]; err != nil {
		return err
	}
	g.worktrees[path] = gitfacade.WorktreeRecord{AbsolutePath: path, Branch: branch}
	g.created[branch] = true
	if _, ok := g.currentCommit[path]; !ok {
		g.currentCommit[path] = g.remoteCommit[branch]
	}
	return nil
}

func (g *fakeGit) RemoveWorktree(ctx context.Context, bareDir, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.worktrees, path)
	g.removed[path] = true
	return nil
}

func (g *fakeGit) PruneWorktrees(ctx context.Context, bareDir string) error { return nil }

func (g *fakeGit) CanFastForward(ctx context.Context, bareDir, worktreePath, branch string) (bool, error) {
	return g.canFastForward[worktreePath], nil
}

func (g *fakeGit) IsLocalAheadOfRemote(ctx context.Context, bareDir, worktreePath, branch string) (bool, error) {
	return g.isAhead[worktreePath], nil
}

func (g *fakeGit) CompareTreeContent(ctx context.Context, bareDir, worktreePath, branch string) (bool, error) {
	return g.sameTree[worktreePath], nil
}

func (g *fakeGit) ResetToUpstream(ctx context.Context, worktreePath, branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset[worktreePath] = true
	g.currentCommit[worktreePath] = g.remoteCommit[branch]
	return nil
}

func (g *fakeGit) UpdateWorktree(ctx context.Context, worktreePath, branch string, skipLFS bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updated[worktreePath] = true
	g.currentCommit[worktreePath] = g.remoteCommit[branch]
	return nil
}

func (g *fakeGit) GetCurrentBranch(ctx context.Context, worktreePath string) (string, error) {
	return g.worktrees[worktreePath].Branch, nil
}

func (g *fakeGit) GetCurrentCommit(ctx context.Context, worktreePath string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentCommit[worktreePath], nil
}

func (g *fakeGit) GetRemoteCommit(ctx context.Context, bareDir, branch string) (string, error) {
	return g.remoteCommit[branch], nil
}

func (g *fakeGit) BranchExists(ctx context.Context, bareDir, name string) (gitfacade.BranchPresence, error) {
	_, remote := g.remoteBranches[name]
	return gitfacade.BranchPresence{Remote: remote}, nil
}

func (g *fakeGit) CreateBranch(ctx context.Context, bareDir, name, base string) error { return nil }
func (g *fakeGit) PushBranch(ctx context.Context, bareDir, name string) error         { return nil }

var _ gitfacade.Git = &fakeGit{}

// fakeProber is a scripted statusprobe.Prober double, keyed by worktree path.
type fakeProber struct {
	results map[string]statusprobe.Result
}

func newFakeProber() *fakeProber {
	return &fakeProber{results: map[string]statusprobe.Result{}}
}

func (p *fakeProber) Probe(ctx context.Context, worktreePath, branch, lastSyncCommit string) (statusprobe.Result, error) {
	if r, ok := p.results[worktreePath]; ok {
		return r, nil
	}
	return statusprobe.Result{IsClean: true, CanRemove: true}, nil
}

func (p *fakeProber) ProbeDetailed(ctx context.Context, worktreePath, branch, lastSyncCommit string) (statusprobe.DetailedResult, error) {
	r, err := p.Probe(ctx, worktreePath, branch, lastSyncCommit)
	return statusprobe.DetailedResult{Result: r}, err
}

var _ statusprobe.Prober = &fakeProber{}

// fakeMetadataStore is an in-memory metadata.Store double.
type fakeMetadataStore struct {
	mu      sync.Mutex
	records map[string]metadata.Record
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{records: map[string]metadata.Record{}}
}

func (s *fakeMetadataStore) Create(ctx context.Context, worktreePath, currentCommit, upstreamBranch, createdFromBranch, createdFromCommit string) (metadata.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := metadata.Record{LastSyncCommit: currentCommit, UpstreamBranch: upstreamBranch}
	s.records[worktreePath] = record
	return record, nil
}

func (s *fakeMetadataStore) Load(ctx context.Context, worktreePath, branch string) (metadata.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[worktreePath]
	return r, ok, nil
}

func (s *fakeMetadataStore) UpdateLastSync(ctx context.Context, worktreePath, newCommit string, action metadata.Action) (metadata.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[worktreePath]
	r.LastSyncCommit = newCommit
	s.records[worktreePath] = r
	return r, nil
}

func (s *fakeMetadataStore) Delete(ctx context.Context, worktreePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, worktreePath)
	return nil
}

var _ metadata.Store = &fakeMetadataStore{}

package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcampanini/branchsync/internal/limiter"
	"github.com/jmcampanini/branchsync/internal/retry"
)

func TestSync_EmitsOnePhaseEventPerPhase(t *testing.T) {
	git := newFakeGit("main")
	base := t.TempDir()
	lim, err := limiter.New(limiter.Config{})
	require.NoError(t, err)

	events := make(chan Event, 16)
	e := New(Config{
		RepoURL:      "https://example.com/repo.git",
		BareDir:      base + "/.bare",
		WorktreeBase: base,
		Git:          git,
		Prober:       newFakeProber(),
		Metadata:     newFakeMetadataStore(),
		Limiter:      lim,
		Retry:        retry.Options{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Events:       events,
	})
	require.NoError(t, e.Initialize(context.Background()))

	_, err = e.Sync(context.Background())
	require.NoError(t, err)
	close(events)

	var phases []string
	for evt := range events {
		require.Equal(t, "https://example.com/repo.git", evt.Repo)
		phases = append(phases, evt.Phase)
	}
	require.Equal(t, []string{"prune", "fetch", "orphan-cleanup", "classify", "create", "finalize"}, phases)
}

func TestSync_NilEventsChannelIsSafe(t *testing.T) {
	git := newFakeGit("main")
	base := t.TempDir()
	lim, err := limiter.New(limiter.Config{})
	require.NoError(t, err)

	e := New(Config{
		RepoURL:      "u",
		BareDir:      base + "/.bare",
		WorktreeBase: base,
		Git:          git,
		Prober:       newFakeProber(),
		Metadata:     newFakeMetadataStore(),
		Limiter:      lim,
		Retry:        retry.Options{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	require.NoError(t, e.Initialize(context.Background()))

	_, err = e.Sync(context.Background())
	require.NoError(t, err)
}

package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	bareDir := t.TempDir()
	return NewFileStore(bareDir), bareDir
}

func TestCreate_WritesInitialRecordWithCreatedEntry(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	record, err := store.Create(ctx, "/worktrees/feat-one", "abc123", "origin/feat/one", "main", "def456")
	require.NoError(t, err)
	require.Equal(t, "abc123", record.LastSyncCommit)
	require.Equal(t, "origin/feat/one", record.UpstreamBranch)
	require.Len(t, record.SyncHistory, 1)
	require.Equal(t, ActionCreated, record.SyncHistory[0].Action)
}

func TestLoad_RoundTrips(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "/worktrees/feat-one", "abc123", "origin/feat/one", "main", "def456")
	require.NoError(t, err)

	loaded, ok, err := store.Load(ctx, "/worktrees/feat-one", "feat/one")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc123", loaded.LastSyncCommit)
}

func TestLoad_MissingReturnsNotOK(t *testing.T) {
	store, _ := newStore(t)
	_, ok, err := store.Load(context.Background(), "/worktrees/nope", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoad_CorruptJSONDiscarded(t *testing.T) {
	store, bareDir := newStore(t)
	dir := filepath.Join(bareDir, "worktrees", "feat-one")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, recordFileName), []byte("{not json"), 0o644))

	_, ok, err := store.Load(context.Background(), "/worktrees/feat-one", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoad_InvalidShapeDiscarded(t *testing.T) {
	store, bareDir := newStore(t)
	dir := filepath.Join(bareDir, "worktrees", "feat-one")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	bad := Record{LastSyncCommit: "not-hex-ZZZ", LastSyncDate: time.Now(), UpstreamBranch: "origin/feat/one"}
	data, _ := json.Marshal(bad)
	require.NoError(t, os.WriteFile(filepath.Join(dir, recordFileName), data, 0o644))

	_, ok, err := store.Load(context.Background(), "/worktrees/feat-one", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateLastSync_PushesHistoryAndTrimsTo10(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "/worktrees/feat-one", "c0", "origin/feat/one", "main", "c0")
	require.NoError(t, err)

	var last Record
	for i := 1; i <= 12; i++ {
		last, err = store.UpdateLastSync(ctx, "/worktrees/feat-one", fmt.Sprintf("c%06x", i), ActionUpdated)
		require.NoError(t, err)
	}
	require.Len(t, last.SyncHistory, historyLimit)
}

func TestDelete_Idempotent(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Delete(ctx, "/worktrees/never-existed"))

	_, err := store.Create(ctx, "/worktrees/feat-one", "c0", "origin/feat/one", "main", "c0")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "/worktrees/feat-one"))
	require.NoError(t, store.Delete(ctx, "/worktrees/feat-one"))

	_, ok, err := store.Load(ctx, "/worktrees/feat-one", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMigrateLegacy_MovesRecordAndPrunesEmptyParents(t *testing.T) {
	store, bareDir := newStore(t)
	ctx := context.Background()

	legacyDir := filepath.Join(bareDir, "sync-metadata", "feat", "one")
	require.NoError(t, os.MkdirAll(legacyDir, 0o755))
	legacy := Record{LastSyncCommit: "abc123", LastSyncDate: time.Now(), UpstreamBranch: "origin/feat/one"}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(legacyDir, recordFileName), data, 0o644))

	migrated, ok, err := store.MigrateLegacy(ctx, "/worktrees/feat-one", "feat/one")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc123", migrated.LastSyncCommit)

	_, statErr := os.Stat(filepath.Join(legacyDir, recordFileName))
	require.True(t, os.IsNotExist(statErr))

	loaded, ok, err := store.Load(ctx, "/worktrees/feat-one", "feat/one")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc123", loaded.LastSyncCommit)
}

// TestLoad_MigratesLegacyRecordTransparently exercises Load itself (not
// MigrateLegacy directly) finding and migrating a legacy-path record,
// matching how production call sites invoke it.
func TestLoad_MigratesLegacyRecordTransparently(t *testing.T) {
	store, bareDir := newStore(t)
	ctx := context.Background()

	legacyDir := filepath.Join(bareDir, "sync-metadata", "feat", "two")
	require.NoError(t, os.MkdirAll(legacyDir, 0o755))
	legacy := Record{LastSyncCommit: "def456", LastSyncDate: time.Now(), UpstreamBranch: "origin/feat/two"}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(legacyDir, recordFileName), data, 0o644))

	loaded, ok, err := store.Load(ctx, "/worktrees/feat-two", "feat/two")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "def456", loaded.LastSyncCommit)

	_, statErr := os.Stat(filepath.Join(legacyDir, recordFileName))
	require.True(t, os.IsNotExist(statErr))
}

func TestWrite_IsAtomicNoLeftoverTempFiles(t *testing.T) {
	store, bareDir := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "/worktrees/feat-one", "c0", "origin/feat/one", "main", "c0")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(bareDir, "worktrees", "feat-one"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, recordFileName, entries[0].Name())
}

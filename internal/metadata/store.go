package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"

	"github.com/jmcampanini/branchsync/internal/gitfacade"
)

const recordFileName = "sync-metadata.json"

// FileStore persists Records as JSON files under the bare repository's
// own worktree admin directory (`<bareDir>/worktrees/<basename>/`), the
// same place git keeps its own per-worktree bookkeeping (locked, gitdir,
// etc). Piggybacking on that directory means metadata is pruned for
// free whenever `git worktree prune` removes a stale admin entry.
type FileStore struct {
	bareDir string
	log     *clog.Logger
}

var _ Store = &FileStore{}

// NewFileStore creates a FileStore rooted at bareDir (the path passed as
// GIT_DIR to every Git facade call for this repository).
func NewFileStore(bareDir string) *FileStore {
	return &FileStore{bareDir: bareDir, log: clog.Default().WithPrefix("metadata")}
}

func (s *FileStore) adminDir(worktreePath string) string {
	return filepath.Join(s.bareDir, "worktrees", filepath.Base(worktreePath))
}

func (s *FileStore) recordPath(worktreePath string) string {
	return filepath.Join(s.adminDir(worktreePath), recordFileName)
}

// legacyRecordPath is the pre-migration path: a record nested by branch
// name directly under the bare repo's metadata root, which for
// slash-bearing branches produced a nested directory structure instead
// of a flat basename-keyed one.
func (s *FileStore) legacyRecordPath(branch string) string {
	return filepath.Join(s.bareDir, "sync-metadata", branch, recordFileName)
}

func (s *FileStore) Create(ctx context.Context, worktreePath, currentCommit, upstreamBranch, createdFromBranch, createdFromCommit string) (Record, error) {
	record := Record{
		LastSyncCommit: currentCommit,
		LastSyncDate:   time.Now(),
		UpstreamBranch: upstreamBranch,
		CreatedFrom:    CreatedFrom{Branch: createdFromBranch, Commit: createdFromCommit},
	}
	record = record.pushHistory(HistoryEntry{Date: record.LastSyncDate, Commit: currentCommit, Action: ActionCreated})
	if err := s.write(worktreePath, record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Load reads the record for worktreePath. On a miss, it falls back to
// the legacy branch-keyed path for branch and migrates it forward
// atomically before returning, so a worktree that only has legacy
// metadata is indistinguishable, to the caller, from one already
// migrated.
func (s *FileStore) Load(ctx context.Context, worktreePath, branch string) (Record, bool, error) {
	record, ok, err := s.readFrom(s.recordPath(worktreePath))
	if err != nil {
		return Record{}, false, err
	}
	if ok {
		return record, true, nil
	}
	if branch == "" {
		return Record{}, false, nil
	}

	return s.MigrateLegacy(ctx, worktreePath, branch)
}

// MigrateLegacy checks whether a record exists at the legacy branch-keyed
// path for branch, and if so moves it to the basename-keyed path,
// pruning now-empty legacy parent directories.
func (s *FileStore) MigrateLegacy(ctx context.Context, worktreePath, branch string) (Record, bool, error) {
	oldPath := s.legacyRecordPath(branch)
	record, ok, err := s.readFrom(oldPath)
	if err != nil || !ok {
		return Record{}, false, err
	}

	if err := s.write(worktreePath, record); err != nil {
		return Record{}, false, err
	}
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to remove legacy metadata file", "path", oldPath, "error", err)
	}
	s.pruneEmptyParents(filepath.Dir(oldPath))
	return record, true, nil
}

func (s *FileStore) pruneEmptyParents(dir string) {
	root := filepath.Join(s.bareDir, "sync-metadata")
	for dir != root && strings.HasPrefix(dir, root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if rmErr := os.Remove(dir); rmErr != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *FileStore) UpdateLastSync(ctx context.Context, worktreePath, newCommit string, action Action) (Record, error) {
	record, ok, err := s.readFrom(s.recordPath(worktreePath))
	if err != nil {
		return Record{}, err
	}
	if !ok {
		repaired, repairErr := s.autoRepair(ctx, worktreePath, newCommit, action)
		if repairErr != nil {
			return Record{}, fmt.Errorf("metadata missing for %s and auto-repair failed: %w", worktreePath, repairErr)
		}
		return repaired, nil
	}

	record.LastSyncCommit = newCommit
	record.LastSyncDate = time.Now()
	record = record.pushHistory(HistoryEntry{Date: record.LastSyncDate, Commit: newCommit, Action: action})
	if err := s.write(worktreePath, record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// autoRepair rebuilds a minimal record when UpdateLastSync finds none,
// reading the worktree's current branch straight from git rather than
// surfacing a hard failure for what is ordinarily a recoverable gap
// (e.g. the metadata file was manually deleted).
func (s *FileStore) autoRepair(ctx context.Context, worktreePath, newCommit string, action Action) (Record, error) {
	branch, err := gitfacade.Exec(ctx, worktreePath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Record{}, err
	}
	upstream, err := gitfacade.Exec(ctx, worktreePath, "rev-parse", "--abbrev-ref", branch+"@{upstream}")
	if err != nil {
		upstream = "origin/" + branch
	}
	return s.Create(ctx, worktreePath, newCommit, upstream, branch, newCommit)
}

func (s *FileStore) Delete(ctx context.Context, worktreePath string) error {
	err := os.Remove(s.recordPath(worktreePath))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) readFrom(path string) (Record, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		s.log.Warn("corrupt sync-metadata.json, discarding", "path", path, "error", err)
		return Record{}, false, nil
	}
	if !record.valid() {
		s.log.Warn("sync-metadata.json failed shape validation, discarding", "path", path)
		return Record{}, false, nil
	}
	return record, true, nil
}

// write serializes record atomically: write to a temp file in the same
// directory, then rename over the target, so a crash mid-write never
// leaves a half-written sync-metadata.json behind.
func (s *FileStore) write(worktreePath string, record Record) error {
	dir := s.adminDir(worktreePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, recordFileName+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dir, recordFileName))
}

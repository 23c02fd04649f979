package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

const configFileName = "branchsync.toml"

// LoadResult contains the loaded config and metadata about the load.
type LoadResult struct {
	Config      Config
	SourcePaths []string // paths that were successfully loaded, in order applied
}

// FileSystem abstracts file system operations for testability.
type FileSystem interface {
	// Exists returns true if the path exists and is a file (not a directory).
	Exists(path string) bool
}

// OSFileSystem implements FileSystem using the real OS.
type OSFileSystem struct{}

// Exists returns true if the path exists and is a file (not a directory).
func (OSFileSystem) Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Loader handles configuration loading and merging.
type Loader struct {
	fs FileSystem
}

// NewLoader creates a new Loader with the given FileSystem.
func NewLoader(fs FileSystem) *Loader {
	return &Loader{fs: fs}
}

// NewDefaultLoader creates a new Loader that uses the real OS file system.
func NewDefaultLoader() *Loader {
	return NewLoader(OSFileSystem{})
}

// ConfigPaths returns the ordered list of config file paths to check, from
// lowest to highest priority: the XDG config directory, then cwd.
func ConfigPaths(cwd string) []string {
	var paths []string
	if xdgConfigDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(xdgConfigDir, "branchsync", configFileName))
	}
	if cwd != "" {
		paths = append(paths, filepath.Join(cwd, configFileName))
	}
	return paths
}

// Load reads and merges all config files in priority order, then fills
// each repository's fields left unset by the files with the defaults.
// Paths should be ordered from lowest
// to highest priority. Each decoded [[repository]] array entirely replaces
// any previously-decoded repository list for that file (TOML array-of-table
// semantics), so layering is intended for single-file deployments with an
// optional XDG-level override, not partial per-field layering across files.
func (l *Loader) Load(paths []string) (LoadResult, error) {
	var raw rawConfig
	var sourcePaths []string
	var decoded bool

	for _, path := range paths {
		if !l.fs.Exists(path) {
			continue // Skip missing files
		}

		metadata, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return LoadResult{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
			log.Warn("unknown config keys", "path", path, "keys", undecoded)
		}

		sourcePaths = append(sourcePaths, path)
		decoded = true
	}

	if !decoded {
		return LoadResult{}, fmt.Errorf("no config file found in %v", paths)
	}

	cfg := Config{Repositories: applyRepositoryDefaults(raw.Repositories)}

	if err := cfg.Validate(); err != nil {
		return LoadResult{}, fmt.Errorf("invalid config: %w", err)
	}

	return LoadResult{
		Config:      cfg,
		SourcePaths: sourcePaths,
	}, nil
}

// rawConfig and rawRepositoryConfig mirror Config/RepositoryConfig as the
// TOML decode target, except every field that has a non-zero default
// (currently just UpdateExistingWorktrees) is a pointer so the decoder can
// tell "absent from the file" apart from "explicitly set to the zero
// value" — something decoding straight into RepositoryConfig's bool
// cannot do.
type rawConfig struct {
	Repositories []rawRepositoryConfig `toml:"repository"`
}

type rawRepositoryConfig struct {
	RepoURL                   string   `toml:"repo_url"`
	WorktreeDir               string   `toml:"worktree_dir"`
	BareRepoDir               string   `toml:"bare_repo_dir"`
	CronSchedule              string   `toml:"cron_schedule"`
	RunOnce                   bool     `toml:"run_once"`
	BranchMaxAge              string   `toml:"branch_max_age"`
	SkipLFS                   bool     `toml:"skip_lfs"`
	UpdateExistingWorktrees   *bool    `toml:"update_existing_worktrees"`
	FilesToCopyOnBranchCreate []string `toml:"files_to_copy_on_branch_create"`
	Debug                     bool     `toml:"debug"`

	Retry       RetryConfig       `toml:"retry"`
	Parallelism ParallelismConfig `toml:"parallelism"`
}

// applyRepositoryDefaults fills zero-valued fields of each decoded
// repository with DefaultRepositoryConfig's values. TOML decoding leaves
// fields absent from the file at their Go zero value, so this is a simple
// "replace zero with default" merge rather than a true deep-merge.
func applyRepositoryDefaults(repos []rawRepositoryConfig) []RepositoryConfig {
	out := make([]RepositoryConfig, len(repos))
	for i, raw := range repos {
		def := DefaultRepositoryConfig()
		r := RepositoryConfig{
			RepoURL:                   raw.RepoURL,
			WorktreeDir:               raw.WorktreeDir,
			BareRepoDir:               raw.BareRepoDir,
			CronSchedule:              raw.CronSchedule,
			RunOnce:                   raw.RunOnce,
			BranchMaxAge:              raw.BranchMaxAge,
			SkipLFS:                   raw.SkipLFS,
			FilesToCopyOnBranchCreate: raw.FilesToCopyOnBranchCreate,
			Debug:                     raw.Debug,
			Retry:                     raw.Retry,
			Parallelism:               raw.Parallelism,
		}
		if raw.UpdateExistingWorktrees != nil {
			r.UpdateExistingWorktrees = *raw.UpdateExistingWorktrees
		} else {
			r.UpdateExistingWorktrees = def.UpdateExistingWorktrees
		}
		if r.Retry.MaxAttempts == "" {
			r.Retry.MaxAttempts = def.Retry.MaxAttempts
		}
		if r.Retry.MaxLFSRetries == 0 {
			r.Retry.MaxLFSRetries = def.Retry.MaxLFSRetries
		}
		if r.Retry.InitialDelayMs == 0 {
			r.Retry.InitialDelayMs = def.Retry.InitialDelayMs
		}
		if r.Retry.MaxDelayMs == 0 {
			r.Retry.MaxDelayMs = def.Retry.MaxDelayMs
		}
		if r.Retry.BackoffMultiplier == 0 {
			r.Retry.BackoffMultiplier = def.Retry.BackoffMultiplier
		}
		if r.Parallelism.MaxRepositories == 0 {
			r.Parallelism.MaxRepositories = def.Parallelism.MaxRepositories
		}
		if r.Parallelism.MaxWorktreeCreation == 0 {
			r.Parallelism.MaxWorktreeCreation = def.Parallelism.MaxWorktreeCreation
		}
		if r.Parallelism.MaxWorktreeUpdates == 0 {
			r.Parallelism.MaxWorktreeUpdates = def.Parallelism.MaxWorktreeUpdates
		}
		if r.Parallelism.MaxWorktreeRemoval == 0 {
			r.Parallelism.MaxWorktreeRemoval = def.Parallelism.MaxWorktreeRemoval
		}
		if r.Parallelism.MaxStatusChecks == 0 {
			r.Parallelism.MaxStatusChecks = def.Parallelism.MaxStatusChecks
		}
		if r.BareRepoDir == "" {
			r.BareRepoDir = defaultBareRepoDir(r.RepoURL)
		}
		out[i] = r
	}
	return out
}

// defaultBareRepoDir derives ".bare/<repo-name>" from a remote URL.
func defaultBareRepoDir(repoURL string) string {
	name := filepath.Base(repoURL)
	name = trimGitSuffix(name)
	if name == "" || name == "." || name == "/" {
		return ""
	}
	return filepath.Join(".bare", name)
}

func trimGitSuffix(name string) string {
	const suffix = ".git"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}

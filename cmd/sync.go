package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmcampanini/branchsync/internal/config"
	"github.com/jmcampanini/branchsync/internal/supervisor"
	"github.com/jmcampanini/branchsync/internal/syncengine"
)

var (
	syncConfigPath string
	syncRepoName   string
	syncOnce       bool
	syncReport     string
)

// repoSyncReport is the --report yaml document shape: one entry per
// repository synced this invocation.
type repoSyncReport struct {
	Repo    string        `yaml:"repo"`
	Entries []reportEntry `yaml:"entries"`
}

type reportEntry struct {
	Branch string `yaml:"branch"`
	Path   string `yaml:"path"`
	Action string `yaml:"action"`
	Reason string `yaml:"reason,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

func toReportEntries(entries []syncengine.EntryResult) []reportEntry {
	out := make([]reportEntry, len(entries))
	for i, e := range entries {
		re := reportEntry{Branch: e.Branch, Path: e.Path, Action: string(e.Action), Reason: e.Reason}
		if e.Err != nil {
			re.Error = e.Err.Error()
		}
		out[i] = re
	}
	return out
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync worktree trees against their remotes",
	Long: `Sync keeps each configured repository's worktree tree aligned with its
remote branches: creating worktrees for new branches, fast-forwarding or
resetting existing ones, quarantining worktrees that have genuinely
diverged, and removing worktrees whose branch was deleted upstream.

With --once (or run_once set on every configured repository), each repository is synced
exactly one time and sync exits. Otherwise sync blocks, running each
repository on its configured cron_schedule until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncConfigPath, "config", "", "path to branchsync.toml (defaults to the standard search path)")
	syncCmd.Flags().StringVar(&syncRepoName, "repo", "", "only sync the repository matching this worktree_dir or repo_url")
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "run one pass per repository and exit, ignoring cron_schedule")
	syncCmd.Flags().StringVar(&syncReport, "report", "text", "pass result format: text or yaml")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(syncConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg, err = filterRepositories(cfg, syncRepoName)
	if err != nil {
		return err
	}

	sup, build, err := buildSupervisor(cfg)
	if err != nil {
		return err
	}

	runOnce := syncOnce || allRunOnce(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runOnce {
		errs := sup.SyncAll(ctx)
		if err := printSyncResults(cmd, sup, syncReport); err != nil {
			return err
		}
		if len(errs) > 0 {
			return fmt.Errorf("%d repositories failed to sync: %v", len(errs), errs)
		}
		return nil
	}

	reloadSignal := make(chan os.Signal, 1)
	signal.Notify(reloadSignal, syscall.SIGHUP)
	defer signal.Stop(reloadSignal)

	sup.Start()
	for {
		select {
		case <-ctx.Done():
			sup.Stop()
			return nil
		case <-reloadSignal:
			newCfg, err := loadConfig(syncConfigPath)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "reload: loading config: %v\n", err)
				continue
			}
			newCfg, err = filterRepositories(newCfg, syncRepoName)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "reload: %v\n", err)
				continue
			}
			if err := sup.Reload(ctx, newCfg, repoName, build, false); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "reload: %v\n", err)
			}
		}
	}
}

func printSyncResults(cmd *cobra.Command, sup *supervisor.Supervisor, format string) error {
	switch format {
	case "yaml":
		var reports []repoSyncReport
		for _, name := range sup.Names() {
			result, _, _ := sup.LastResult(name)
			if result == nil {
				continue
			}
			reports = append(reports, repoSyncReport{Repo: name, Entries: toReportEntries(result.Entries)})
		}
		out, err := yaml.Marshal(reports)
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	default:
		for _, name := range sup.Names() {
			result, _, _ := sup.LastResult(name)
			if result != nil {
				fmt.Fprintln(cmd.OutOrStdout(), result.PerformanceSummary())
			}
		}
		return nil
	}
}

func filterRepositories(cfg config.Config, name string) (config.Config, error) {
	if name == "" {
		return cfg, nil
	}
	for _, r := range cfg.Repositories {
		if repoName(r) == name {
			return config.Config{Repositories: []config.RepositoryConfig{r}}, nil
		}
	}
	return config.Config{}, fmt.Errorf("no configured repository matches --repo %q", name)
}

func allRunOnce(cfg config.Config) bool {
	for _, r := range cfg.Repositories {
		if !r.RunOnce {
			return false
		}
	}
	return true
}

package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmcampanini/branchsync/internal/config"
	"github.com/jmcampanini/branchsync/internal/gitfacade"
	"github.com/jmcampanini/branchsync/internal/metadata"
	"github.com/jmcampanini/branchsync/internal/statusprobe"
)

var (
	statusConfigPath string
	statusRepoName   string
	statusVerbose    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync status of each managed worktree",
	Long: `Status prints, for every worktree under each configured repository,
its branch, clean/dirty state (with the reasons when dirty), and how long
ago it last synced. Ahead/behind counts are not shown; --verbose adds the
modified and untracked files and the number of unpushed commits.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusConfigPath, "config", "", "path to branchsync.toml (defaults to the standard search path)")
	statusCmd.Flags().StringVar(&statusRepoName, "repo", "", "only show the repository matching this worktree_dir or repo_url")
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "show modified/untracked file detail")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(statusConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg, err = filterRepositories(cfg, statusRepoName)
	if err != nil {
		return err
	}

	git := gitfacade.New()
	prober := statusprobe.New()
	ctx := context.Background()

	for _, repoCfg := range cfg.Repositories {
		if err := printRepoStatus(cmd, ctx, repoCfg, git, prober); err != nil {
			return fmt.Errorf("%s: %w", repoName(repoCfg), err)
		}
	}
	return nil
}

func printRepoStatus(cmd *cobra.Command, ctx context.Context, repoCfg config.RepositoryConfig, git gitfacade.Git, prober statusprobe.Prober) error {
	store := metadata.NewFileStore(repoCfg.BareRepoDir)

	records, err := git.ListWorktrees(ctx, repoCfg.BareRepoDir)
	if err != nil {
		return err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].AbsolutePath < records[j].AbsolutePath })

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", repoName(repoCfg))
	for _, r := range records {
		if r.Detached || r.Branch == "" {
			continue
		}

		record, hasRecord, _ := store.Load(ctx, r.AbsolutePath, r.Branch)

		result, err := prober.Probe(ctx, r.AbsolutePath, r.Branch, record.LastSyncCommit)
		if err != nil {
			fmt.Fprintf(out, "  %-30s %-20s probe failed: %v\n", r.Branch, r.AbsolutePath, err)
			continue
		}

		state := "clean"
		if !result.IsClean {
			state = fmt.Sprintf("dirty (%v)", result.Reasons)
		}

		lastSync := "never"
		if hasRecord && !record.LastSyncDate.IsZero() {
			lastSync = humanize.Time(record.LastSyncDate)
		}

		fmt.Fprintf(out, "  %-30s %-8s last synced %s\n", r.Branch, state, lastSync)

		if statusVerbose {
			detailed, err := prober.ProbeDetailed(ctx, r.AbsolutePath, r.Branch, record.LastSyncCommit)
			if err == nil {
				if len(detailed.ModifiedFiles) > 0 {
					fmt.Fprintf(out, "    modified: %v\n", detailed.ModifiedFiles)
				}
				if len(detailed.UntrackedFiles) > 0 {
					fmt.Fprintf(out, "    untracked: %v\n", detailed.UntrackedFiles)
				}
				if detailed.UnpushedCommits > 0 {
					fmt.Fprintf(out, "    unpushed commits: %d\n", detailed.UnpushedCommits)
				}
			}
		}
	}
	return nil
}

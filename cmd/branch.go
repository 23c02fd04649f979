package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcampanini/branchsync/internal/config"
	"github.com/jmcampanini/branchsync/internal/gitfacade"
)

var branchConfigPath string
var branchRepoName string

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Inspect or create branches on a configured repository's remote",
}

var branchExistsCmd = &cobra.Command{
	Use:   "exists <name>",
	Short: "Report whether a branch exists locally and/or on the remote",
	Args:  cobra.ExactArgs(1),
	RunE:  runBranchExists,
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name> [base]",
	Short: "Create a local branch, optionally from a base ref other than the default branch",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runBranchCreate,
}

var branchPushCmd = &cobra.Command{
	Use:   "push <name>",
	Short: "Push a local branch to the remote",
	Args:  cobra.ExactArgs(1),
	RunE:  runBranchPush,
}

func init() {
	branchCmd.PersistentFlags().StringVar(&branchConfigPath, "config", "", "path to branchsync.toml (defaults to the standard search path)")
	branchCmd.PersistentFlags().StringVar(&branchRepoName, "repo", "", "the configured repository to operate against (required unless only one is configured)")
	branchCmd.AddCommand(branchExistsCmd)
	branchCmd.AddCommand(branchCreateCmd)
	branchCmd.AddCommand(branchPushCmd)
	rootCmd.AddCommand(branchCmd)
}

func selectRepo(configPath, name string) (config.RepositoryConfig, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return config.RepositoryConfig{}, fmt.Errorf("loading config: %w", err)
	}
	if name == "" {
		if len(cfg.Repositories) != 1 {
			return config.RepositoryConfig{}, fmt.Errorf("--repo is required when more than one repository is configured")
		}
		return cfg.Repositories[0], nil
	}
	for _, r := range cfg.Repositories {
		if repoName(r) == name {
			return r, nil
		}
	}
	return config.RepositoryConfig{}, fmt.Errorf("no configured repository matches --repo %q", name)
}

func runBranchExists(cmd *cobra.Command, args []string) error {
	repoCfg, err := selectRepo(branchConfigPath, branchRepoName)
	if err != nil {
		return err
	}
	git := gitfacade.New()
	presence, err := git.BranchExists(context.Background(), repoCfg.BareRepoDir, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "local=%v remote=%v\n", presence.Local, presence.Remote)
	return nil
}

func runBranchCreate(cmd *cobra.Command, args []string) error {
	repoCfg, err := selectRepo(branchConfigPath, branchRepoName)
	if err != nil {
		return err
	}
	base := ""
	if len(args) == 2 {
		base = args[1]
	}
	git := gitfacade.New()
	if err := git.CreateBranch(context.Background(), repoCfg.BareRepoDir, args[0], base); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created branch %s\n", args[0])
	return nil
}

func runBranchPush(cmd *cobra.Command, args []string) error {
	repoCfg, err := selectRepo(branchConfigPath, branchRepoName)
	if err != nil {
		return err
	}
	git := gitfacade.New()
	if err := git.PushBranch(context.Background(), repoCfg.BareRepoDir, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pushed branch %s\n", args[0])
	return nil
}

package cmd

import (
	clog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "n/a"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "branchsync",
	Short: "Keep a tree of git worktrees aligned with their remote branches",
	Long: `branchsync maintains one worktree per remote branch for one or more
repositories: creating worktrees for new branches, fast-forwarding or
resetting existing ones, quarantining worktrees that have genuinely
diverged from their upstream, and removing worktrees whose branch was
deleted, all on a configurable schedule.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			clog.SetLevel(clog.DebugLevel)
		}
	},
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

package cmd

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

var configCmdPath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Load, validate, and print branchsync configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the configuration and report any validation errors",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration (defaults applied) in TOML format",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	configCmd.PersistentFlags().StringVar(&configCmdPath, "config", "", "path to branchsync.toml (defaults to the standard search path)")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configCmdPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config valid: %d repositories configured\n", len(cfg.Repositories))
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configCmdPath)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), buf.String())
	return err
}

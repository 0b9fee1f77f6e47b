package main

import (
	"fmt"
	"os"

	"github.com/pysugar/filedesk/internal/config"
	"github.com/pysugar/filedesk/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfigPath string
	flagJSON       bool
)

// resolvedCfg is loaded by PersistentPreRunE for every command except version.
var resolvedCfg *config.Config

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "filedesk",
		Short:         "Storage account manager for the marketing site",
		Long:          "filedesk links cloud storage accounts, keeps their credentials fresh and uploads site assets to the default account.",
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (overrides FILEDESK_CONFIG)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newAccountsCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func loadConfig() error {
	if flagConfigPath != "" {
		if err := os.Setenv("FILEDESK_CONFIG", flagConfigPath); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	resolvedCfg = cfg
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

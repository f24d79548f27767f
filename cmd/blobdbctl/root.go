package main

import (
	"github.com/spf13/cobra"

	"github.com/smartwatch/blobdb/internal/config"
)

var (
	flagConfigPath string
	flagDataDir    string
)

// newRootCmd builds the fully-assembled root command with all
// subcommands registered, following tonimelisma-onedrive-go/root.go's
// newRootCmd shape.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "blobdbctl",
		Short:         "Operate a BlobDB data directory",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to a TOML config file (defaults built in if omitted)")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the configured data directory")

	cmd.AddCommand(newInsertCmd())
	cmd.AddCommand(newReadCmd())
	cmd.AddCommand(newDirtyDBsCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newSimulateCmd())

	return cmd
}

// resolveConfig loads flagConfigPath if set, otherwise starts from
// DefaultConfig, then applies the --data-dir override.
func resolveConfig() (*config.Config, error) {
	var cfg *config.Config
	if flagConfigPath != "" {
		loaded, err := config.Load(flagConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	return cfg, nil
}

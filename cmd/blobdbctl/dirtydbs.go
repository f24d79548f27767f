package main

import (
	"github.com/spf13/cobra"
)

func newDirtyDBsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dirty-dbs",
		Short: "List namespaces with pending-sync records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			d, err := buildDaemon(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			for _, id := range d.facade.GetDirtyDBs() {
				cmd.Println(id)
			}
			return nil
		},
	}
}

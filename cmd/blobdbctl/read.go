package main

import (
	"github.com/spf13/cobra"
)

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <db> <key>",
		Short: "Read a record from a namespace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			d, err := buildDaemon(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			db, err := parseDatabaseID(args[0])
			if err != nil {
				return err
			}
			value, err := d.facade.Read(db, []byte(args[1]))
			if err != nil {
				return err
			}
			cmd.Println(string(value))
			return nil
		},
	}
}

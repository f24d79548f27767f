package main

import (
	"github.com/spf13/cobra"
)

func newInsertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <db> <key> <value>",
		Short: "Insert a record into a namespace as a local mutation",
		Args:  cobra.ExactArgs(3),
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
			if err := d.facade.InsertLocal(db, []byte(args[1]), []byte(args[2])); err != nil {
				return err
			}
			cmd.Printf("inserted %s/%s (%d bytes)\n", db, args[1], len(args[2]))
			return nil
		},
	}
}

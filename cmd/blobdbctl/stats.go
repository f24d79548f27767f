package main

import (
	"github.com/spf13/cobra"

	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/settingsfile"
)

// statsProvider is the optional capability a backend advertises for
// diagnostic output; every file-backed backend in package backends
// implements it.
type statsProvider interface {
	Stats() settingsfile.Stats
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [db]",
		Short: "Print per-namespace settings-file size and key counts",
		Args:  cobra.MaximumNArgs(1),
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

			ids := allDatabaseIDs()
			if len(args) == 1 {
				id, err := parseDatabaseID(args[0])
				if err != nil {
					return err
				}
				ids = []blobdb.DatabaseID{id}
			}

			for _, id := range ids {
				b, err := d.facade.Backend(id)
				if err != nil {
					continue
				}
				sp, ok := b.(statsProvider)
				if !ok {
					cmd.Printf("%s: no file-backed stats\n", id)
					continue
				}
				cmd.Printf("%s: %s\n", id, sp.Stats())
			}
			return nil
		},
	}
}

func allDatabaseIDs() []blobdb.DatabaseID {
	ids := make([]blobdb.DatabaseID, 0, blobdb.NumDatabases)
	for id := blobdb.DatabaseID(0); id < blobdb.NumDatabases; id++ {
		ids = append(ids, id)
	}
	return ids
}

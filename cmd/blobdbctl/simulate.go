package main

import (
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/syncengine"
	"github.com/smartwatch/blobdb/internal/wire"
)

// newSimulateCmd runs a local phone simulator against the configured
// data directory for a bounded duration: on every poll it asks the
// façade which namespaces are dirty and starts a database sync for
// each directly through the engine (no DIRTY_DBS/START_SYNC frames are
// exchanged), while the phone end of the loopback acknowledges every
// WRITE/WRITEBACK and SYNC_DONE it receives.
// This is the ambient ops surface brimstore-valuesstore/main.go plays
// for the teacher, adapted to this module's wire codec.
func newSimulateCmd() *cobra.Command {
	var duration time.Duration
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a local phone simulator against the data directory",
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

			timeout, err := cfg.SyncTimeoutDuration()
			if err != nil {
				return err
			}

			watchEnd, phoneEnd := net.Pipe()
			defer watchEnd.Close()
			defer phoneEnd.Close()

			watchConn := wire.NewConn(watchEnd, func() bool { return true }, nil)
			engine := syncengine.New(d.facade, watchConn, timeout)
			watchConn.SetResponseHandler(engine.HandleResponse)
			watchConn.Handle(wire.CmdDirtyDBs, engine.HandleDirtyDBsRequest)
			watchConn.Handle(wire.CmdStartSync, engine.HandleStartSyncRequest)
			watchConn.Handle(wire.CmdWrite, engine.HandleWriteRequest)
			watchConn.Handle(wire.CmdWriteback, engine.HandleWriteRequest)
			watchConn.Start()
			defer watchConn.Close()
			engine.Start()
			defer engine.Stop()

			phoneConn := wire.NewConn(phoneEnd, func() bool { return true }, nil)
			phoneConn.Handle(wire.CmdWrite, func(f wire.Frame) wire.Frame {
				cmd.Printf("phone: wrote record in %s\n", blobdb.DatabaseID(f.DBID))
				return wire.Frame{Command: wire.CmdWrite.Response(), Token: f.Token, Result: wire.Success}
			})
			phoneConn.Handle(wire.CmdWriteback, func(f wire.Frame) wire.Frame {
				cmd.Printf("phone: wrote record in %s\n", blobdb.DatabaseID(f.DBID))
				return wire.Frame{Command: wire.CmdWriteback.Response(), Token: f.Token, Result: wire.Success}
			})
			phoneConn.Handle(wire.CmdSyncDone, func(f wire.Frame) wire.Frame {
				cmd.Printf("phone: %s sync done\n", blobdb.DatabaseID(f.DBID))
				return wire.Frame{Command: wire.CmdSyncDone.Response(), Token: f.Token, Result: wire.Success}
			})
			phoneConn.Start()
			defer phoneConn.Close()

			deadline := time.Now().Add(duration)
			ticker := time.NewTicker(pollInterval)
			defer ticker.Stop()

			for time.Now().Before(deadline) {
				for _, id := range d.facade.GetDirtyDBs() {
					cmd.Printf("phone: requesting sync of %s\n", id)
					engine.SyncDB(id)
				}
				<-ticker.C
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to run the simulator")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "delay between dirty-db polls")
	return cmd
}

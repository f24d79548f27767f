package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartwatch/blobdb/internal/syncengine"
	"github.com/smartwatch/blobdb/internal/wire"
)

// newSyncCmd drives one whole-database sync through the real wire
// codec over a net.Pipe() loopback: the "phone" end just acknowledges
// every WRITE/WRITEBACK with Success and reports SYNC_DONE, proving the
// façade, syncengine and wire packages interoperate end to end without
// a real paired phone.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <db>",
		Short: "Sync one namespace's dirty records over a loopback wire connection",
		Args:  cobra.ExactArgs(1),
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

			done := make(chan struct{}, 1)
			phoneConn := wire.NewConn(phoneEnd, func() bool { return true }, nil)
			phoneConn.Handle(wire.CmdWrite, ackFrame(wire.CmdWrite))
			phoneConn.Handle(wire.CmdWriteback, ackFrame(wire.CmdWriteback))
			phoneConn.Handle(wire.CmdSyncDone, func(f wire.Frame) wire.Frame {
				select {
				case done <- struct{}{}:
				default:
				}
				return wire.Frame{Command: wire.CmdSyncDone.Response(), Token: f.Token, Result: wire.Success}
			})
			phoneConn.Start()
			defer phoneConn.Close()

			result := engine.SyncDB(db)
			if result != wire.Success {
				return fmt.Errorf("sync start rejected: result code %d", result)
			}

			select {
			case <-done:
				cmd.Printf("%s sync complete\n", db)
				return nil
			case <-time.After(timeout + 5*time.Second):
				return fmt.Errorf("sync of %s did not complete within %s", db, timeout)
			}
		},
	}
}

func ackFrame(cmd wire.Command) wire.RequestHandler {
	return func(f wire.Frame) wire.Frame {
		return wire.Frame{Command: cmd.Response(), Token: f.Token, Result: wire.Success}
	}
}

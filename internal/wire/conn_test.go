package wire

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnTryLaterWhileNotAccepting(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	accepting := false
	c := NewConn(server, func() bool { return accepting }, nil)
	c.Handle(CmdDirtyDBs, func(f Frame) Frame {
		return Frame{Command: CmdDirtyDBs.Response(), Token: f.Token, Result: Success}
	})
	c.Start()
	defer c.Close()

	require.NoError(t, WriteFrame(client, Frame{Command: CmdDirtyDBs, Token: 5}))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, TryLater, resp.Result)
}

func TestConnDispatchesKnownRequest(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := NewConn(server, func() bool { return true }, nil)
	c.Handle(CmdStartSync, func(f Frame) Frame {
		return Frame{Command: CmdStartSync.Response(), Token: f.Token, Result: Success}
	})
	c.Start()
	defer c.Close()

	require.NoError(t, WriteFrame(client, Frame{Command: CmdStartSync, Token: 11, DBID: 1}))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, Success, resp.Result)
	require.EqualValues(t, 11, resp.Token)
}

func TestConnUnknownCommandRepliesInvalidOp(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := NewConn(server, func() bool { return true }, nil)
	c.Start()
	defer c.Close()

	require.NoError(t, WriteFrame(client, Frame{Command: CmdSyncDone, Token: 2, DBID: 0}))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, InvalidOp, resp.Result)
}

func TestConnRoutesResponsesToCallback(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	received := make(chan Frame, 1)
	c := NewConn(server, func() bool { return true }, func(f Frame) { received <- f })
	c.Start()
	defer c.Close()

	require.NoError(t, WriteFrame(client, Frame{Command: CmdWrite.Response(), Token: 99, Result: Success}))
	select {
	case f := <-received:
		require.EqualValues(t, 99, f.Token)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response callback")
	}
}

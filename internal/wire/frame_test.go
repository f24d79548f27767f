package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, f))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	return got
}

func TestDirtyDBsRequestRoundTrip(t *testing.T) {
	got := roundTrip(t, Frame{Command: CmdDirtyDBs, Token: 7})
	require.Equal(t, CmdDirtyDBs, got.Command)
	require.EqualValues(t, 7, got.Token)
}

func TestStartSyncRequestRoundTrip(t *testing.T) {
	got := roundTrip(t, Frame{Command: CmdStartSync, Token: 3, DBID: 1})
	require.EqualValues(t, 1, got.DBID)
}

func TestWriteRequestRoundTrip(t *testing.T) {
	f := Frame{
		Command:     CmdWriteback,
		Token:       42,
		DBID:        1,
		LastUpdated: 1700000000,
		Key:         []byte("01234567890123456"[:16]),
		Value:       []byte("hello world"),
	}
	got := roundTrip(t, f)
	require.Equal(t, f.DBID, got.DBID)
	require.Equal(t, f.LastUpdated, got.LastUpdated)
	require.Equal(t, f.Key, got.Key)
	require.Equal(t, f.Value, got.Value)
}

func TestWriteRequestEmptyValue(t *testing.T) {
	f := Frame{Command: CmdWrite, Token: 1, DBID: 0, Key: []byte("k")}
	got := roundTrip(t, f)
	require.Empty(t, got.Value)
}

func TestDirtyDBsResponseRoundTrip(t *testing.T) {
	f := Frame{Command: CmdDirtyDBs.Response(), Token: 9, Result: Success, IDs: []byte{1, 3, 5}}
	got := roundTrip(t, f)
	require.Equal(t, Success, got.Result)
	require.Equal(t, []byte{1, 3, 5}, got.IDs)
}

func TestSimpleResponseRoundTrip(t *testing.T) {
	for _, cmd := range []Command{CmdStartSync, CmdWrite, CmdWriteback, CmdSyncDone} {
		got := roundTrip(t, Frame{Command: cmd.Response(), Token: 1, Result: TryLater})
		require.Equal(t, TryLater, got.Result)
		require.True(t, got.Command.IsResponse())
	}
}

func TestUnknownCommandErrors(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, WriteFrame(&buf, Frame{Command: 0x55}))
}

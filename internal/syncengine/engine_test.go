package syncengine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartwatch/blobdb/internal/backends"
	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/settingsfile"
	"github.com/smartwatch/blobdb/internal/wire"
)

type fakeSender struct {
	sent chan wire.Frame
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan wire.Frame, 64)}
}

func (s *fakeSender) Send(f wire.Frame) { s.sent <- f }

func (s *fakeSender) next(t *testing.T) wire.Frame {
	t.Helper()
	select {
	case f := <-s.sent:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame to be sent")
		return wire.Frame{}
	}
}

func newTestFacade(t *testing.T) *blobdb.Facade {
	t.Helper()
	file, err := settingsfile.Open(filepath.Join(t.TempDir(), "testdb"), 64*1024)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })

	f := blobdb.New()
	f.Register(blobdb.Test, backends.NewTest(file))
	require.NoError(t, f.InitAll(context.Background()))
	return f
}

func TestSyncDBWritesBackEachDirtyRecordAndSendsSyncDone(t *testing.T) {
	facade := newTestFacade(t)
	require.NoError(t, facade.InsertLocal(blobdb.Test, []byte("k1"), []byte("v1")))
	require.NoError(t, facade.InsertLocal(blobdb.Test, []byte("k2"), []byte("v2")))

	sender := newFakeSender()
	e := New(facade, sender, 30*time.Second)
	e.Start()
	defer e.Stop()

	result := e.SyncDB(blobdb.Test)
	require.Equal(t, wire.Success, result)

	f1 := sender.next(t)
	require.Equal(t, wire.CmdWriteback, f1.Command)
	e.HandleAck(f1.Token, wire.Success)

	f2 := sender.next(t)
	require.Equal(t, wire.CmdWriteback, f2.Command)
	e.HandleAck(f2.Token, wire.Success)

	done := sender.next(t)
	require.Equal(t, wire.CmdSyncDone, done.Command)

	dirty, err := facade.IsDirty(blobdb.Test)
	require.NoError(t, err)
	require.False(t, dirty)
}

func TestSyncDBWithNothingDirtySendsSyncDoneImmediately(t *testing.T) {
	facade := newTestFacade(t)
	sender := newFakeSender()
	e := New(facade, sender, 30*time.Second)
	e.Start()
	defer e.Stop()

	require.Equal(t, wire.Success, e.SyncDB(blobdb.Test))
	done := sender.next(t)
	require.Equal(t, wire.CmdSyncDone, done.Command)
}

func TestSyncDBAlreadyActiveReturnsTryLater(t *testing.T) {
	facade := newTestFacade(t)
	require.NoError(t, facade.InsertLocal(blobdb.Test, []byte("k1"), []byte("v1")))

	sender := newFakeSender()
	e := New(facade, sender, 30*time.Second)
	e.Start()
	defer e.Stop()

	require.Equal(t, wire.Success, e.SyncDB(blobdb.Test))
	sender.next(t) // drain the first writeback so the session is confirmed active

	require.Equal(t, wire.TryLater, e.SyncDB(blobdb.Test))
}

func TestSyncDBInvalidDatabaseIDReportsInvalidDbId(t *testing.T) {
	facade := newTestFacade(t)
	sender := newFakeSender()
	e := New(facade, sender, 30*time.Second)
	e.Start()
	defer e.Stop()

	require.Equal(t, wire.InvalidDbId, e.SyncDB(blobdb.DatabaseID(200)))
}

func TestAckFailureEndsSessionWithoutRetry(t *testing.T) {
	facade := newTestFacade(t)
	require.NoError(t, facade.InsertLocal(blobdb.Test, []byte("k1"), []byte("v1")))

	sender := newFakeSender()
	e := New(facade, sender, 30*time.Second)
	e.Start()
	defer e.Stop()

	require.Equal(t, wire.Success, e.SyncDB(blobdb.Test))
	f1 := sender.next(t)
	e.HandleAck(f1.Token, wire.GeneralFailure)

	// The session was dropped on failure, so a fresh SyncDB call must be
	// accepted rather than rejected as already-active.
	require.Equal(t, wire.Success, e.SyncDB(blobdb.Test))
}

func TestSyncRecordSendsWriteAndMarksSynced(t *testing.T) {
	facade := newTestFacade(t)
	require.NoError(t, facade.InsertLocal(blobdb.Test, []byte("k1"), []byte("v1")))

	sender := newFakeSender()
	e := New(facade, sender, 30*time.Second)
	e.Start()
	defer e.Stop()

	e.SyncRecord(blobdb.Test, []byte("k1"))
	f := sender.next(t)
	require.Equal(t, wire.CmdWrite, f.Command)
	require.Equal(t, []byte("k1"), f.Key)

	e.HandleAck(f.Token, wire.Success)

	dirty, err := facade.IsDirty(blobdb.Test)
	require.NoError(t, err)
	require.False(t, dirty)
}

func TestHandleResponseRoutesWritebackAckToHandleAck(t *testing.T) {
	facade := newTestFacade(t)
	require.NoError(t, facade.InsertLocal(blobdb.Test, []byte("k1"), []byte("v1")))

	sender := newFakeSender()
	e := New(facade, sender, 30*time.Second)
	e.Start()
	defer e.Stop()

	require.Equal(t, wire.Success, e.SyncDB(blobdb.Test))
	f := sender.next(t)
	e.HandleResponse(wire.Frame{Command: f.Command.Response(), Token: f.Token, Result: wire.Success})

	done := sender.next(t)
	require.Equal(t, wire.CmdSyncDone, done.Command)
}

func TestHandleDirtyDBsRequestReportsDirtyNamespaces(t *testing.T) {
	facade := newTestFacade(t)
	require.NoError(t, facade.InsertLocal(blobdb.Test, []byte("k1"), []byte("v1")))

	e := New(facade, newFakeSender(), 30*time.Second)
	resp := e.HandleDirtyDBsRequest(wire.Frame{Command: wire.CmdDirtyDBs, Token: 4})
	require.Equal(t, wire.Success, resp.Result)
	require.Contains(t, resp.IDs, byte(blobdb.Test))
}

func TestHandleStartSyncRequestDelegatesToSyncDB(t *testing.T) {
	facade := newTestFacade(t)
	sender := newFakeSender()
	e := New(facade, sender, 30*time.Second)
	e.Start()
	defer e.Stop()

	resp := e.HandleStartSyncRequest(wire.Frame{Command: wire.CmdStartSync, Token: 9, DBID: byte(blobdb.Test)})
	require.Equal(t, wire.Success, resp.Result)
	require.EqualValues(t, 9, resp.Token)
	done := sender.next(t)
	require.Equal(t, wire.CmdSyncDone, done.Command)
}

func TestHandleWriteRequestStoresPeerMutationSyncedAndNotDirty(t *testing.T) {
	facade := newTestFacade(t)
	e := New(facade, newFakeSender(), 30*time.Second)

	resp := e.HandleWriteRequest(wire.Frame{
		Command: wire.CmdWrite,
		Token:   7,
		DBID:    byte(blobdb.Test),
		Key:     []byte("k1"),
		Value:   []byte("from-peer"),
	})
	require.Equal(t, wire.CmdWrite.Response(), resp.Command)
	require.EqualValues(t, 7, resp.Token)
	require.Equal(t, wire.Success, resp.Result)

	value, err := facade.Read(blobdb.Test, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("from-peer"), value)

	dirty, err := facade.IsDirty(blobdb.Test)
	require.NoError(t, err)
	require.False(t, dirty, "a peer-originated insert must not be echoed back on the next sync round")
}

func TestHandleWriteRequestReportsInvalidDbId(t *testing.T) {
	facade := newTestFacade(t)
	e := New(facade, newFakeSender(), 30*time.Second)

	resp := e.HandleWriteRequest(wire.Frame{
		Command: wire.CmdWriteback,
		Token:   3,
		DBID:    200,
		Key:     []byte("k1"),
		Value:   []byte("v1"),
	})
	require.Equal(t, wire.CmdWriteback.Response(), resp.Command)
	require.Equal(t, wire.InvalidDbId, resp.Result)
}

func TestAckForUnknownTokenIsIgnored(t *testing.T) {
	facade := newTestFacade(t)
	e := New(facade, newFakeSender(), 30*time.Second)
	e.Start()
	defer e.Stop()

	e.HandleAck(999, wire.Success)
	// No panic, no deadlock: processed synchronously through the next call.
	require.Equal(t, wire.Success, e.SyncDB(blobdb.Test))
}

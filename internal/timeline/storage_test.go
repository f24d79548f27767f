package timeline

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/smartwatch/blobdb/internal/status"
)

func openStorage(t *testing.T, maxAge time.Duration) *Storage {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pindb"), 64*1024, maxAge)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func freshItem(now time.Time, flags uint8) ([]byte, []byte) {
	id := uuid.New()
	it := Item{Header: Header{ID: id, Created: now.Unix(), Duration: 5, Flags: flags}}
	return id[:], Encode(it)
}

func TestInsertRejectsStaleItems(t *testing.T) {
	s := openStorage(t, 24*time.Hour)
	id := uuid.New()
	old := Item{Header: Header{ID: id, Created: time.Now().Add(-48 * time.Hour).Unix(), Duration: 1}}
	err := s.Insert(id[:], Encode(old), SyncStateDirty)
	require.ErrorIs(t, err, status.InvalidOp)
	require.False(t, s.Exists(id[:]))
}

func TestSetStatusBitsIdempotent(t *testing.T) {
	s := openStorage(t, 24*time.Hour)
	key, val := freshItem(time.Now(), 0)
	require.NoError(t, s.Insert(key, val, SyncStateDirty))
	require.NoError(t, s.SetStatusBits(key, 5))
	it, err := s.Read(key)
	require.NoError(t, err)
	require.EqualValues(t, 5, it.Header.Status)
	require.NoError(t, s.SetStatusBits(key, 5))
	it2, err := s.Read(key)
	require.NoError(t, err)
	require.Equal(t, it.Header.Status, it2.Header.Status)
}

func TestFlushPreservesFromWatch(t *testing.T) {
	s := openStorage(t, 24*time.Hour)
	keyA, valA := freshItem(time.Now(), FlagFromWatch)
	keyB, valB := freshItem(time.Now(), 0)
	require.NoError(t, s.Insert(keyA, valA, SyncStateDirty))
	require.NoError(t, s.Insert(keyB, valB, SyncStateDirty))
	require.NoError(t, s.Flush())
	require.True(t, s.Exists(keyA))
	require.False(t, s.Exists(keyB))
}

func TestDeleteWithParentCascades(t *testing.T) {
	s := openStorage(t, 24*time.Hour)
	parent := uuid.New()
	child := Item{Header: Header{ID: uuid.New(), ParentID: parent, Created: time.Now().Unix(), Duration: 5}}
	key := child.Header.ID[:]
	require.NoError(t, s.Insert(key, Encode(child), SyncStateDirty))

	var deletedKeys [][]byte
	n, err := s.DeleteWithParent(parent, func(k []byte) { deletedKeys = append(deletedKeys, k) })
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, deletedKeys, 1)
	require.False(t, s.Exists(key))
}

func TestNextItemPicksEarliestInRange(t *testing.T) {
	s := openStorage(t, 24*time.Hour)
	now := time.Now()
	earlyID := uuid.New()
	earlyItem := Item{Header: Header{ID: earlyID, Created: now.Add(-time.Hour).Unix(), Duration: 120}}
	lateID := uuid.New()
	lateItem := Item{Header: Header{ID: lateID, Created: now.Unix(), Duration: 5}}
	require.NoError(t, s.Insert(earlyID[:], Encode(earlyItem), SyncStateDirty))
	require.NoError(t, s.Insert(lateID[:], Encode(lateItem), SyncStateDirty))

	id, ok, err := s.NextItem(nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, earlyID, id)
}

package backends

import (
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/settingsfile"
	"github.com/smartwatch/blobdb/internal/status"
)

type fakeActivitySink struct{ calls []string }

func (f *fakeActivitySink) SetActivity(key string, value []byte) { f.calls = append(f.calls, key) }

type fakeMetricSink struct{ calls []string }

func (f *fakeMetricSink) Dispatch(category HealthCategory, key string, value []byte) {
	f.calls = append(f.calls, key)
}

func healthValue(ts time.Time) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(ts.Unix()))
	return buf
}

func openHealthForTest(t *testing.T) (*Health, *fakeActivitySink, *fakeMetricSink) {
	t.Helper()
	file, err := settingsfile.Open(filepath.Join(t.TempDir(), "healthdb"), 64*1024)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })
	activity := &fakeActivitySink{}
	metrics := &fakeMetricSink{}
	return NewHealth(file, activity, metrics), activity, metrics
}

func TestHealthRejectsKeyWithoutUnderscore(t *testing.T) {
	h, _, _ := openHealthForTest(t)
	err := h.Insert([]byte("monmovement"), healthValue(time.Now()), blobdb.OriginLocal)
	require.ErrorIs(t, err, status.InvalidArg)
}

func TestHealthMovementDispatchedNotPersisted(t *testing.T) {
	h, activity, metrics := openHealthForTest(t)
	key := []byte("mon_movement")
	require.NoError(t, h.Insert(key, healthValue(time.Now()), blobdb.OriginLocal))
	require.Len(t, activity.calls, 1)
	require.Empty(t, metrics.calls)
	require.False(t, h.file.Exists(key))
}

func TestHealthSleepPersistedAndDispatched(t *testing.T) {
	h, activity, metrics := openHealthForTest(t)
	key := []byte("tue_sleep")
	require.NoError(t, h.Insert(key, healthValue(time.Now()), blobdb.OriginLocal))
	require.Empty(t, activity.calls)
	require.Len(t, metrics.calls, 1)
	require.True(t, h.file.Exists(key))
}

func TestHealthOutsideWindowSilentlyIgnored(t *testing.T) {
	h, activity, metrics := openHealthForTest(t)
	key := []byte("wed_heartrate")
	stale := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, h.Insert(key, healthValue(stale), blobdb.OriginLocal))
	require.Empty(t, activity.calls)
	require.Empty(t, metrics.calls)
	require.False(t, h.file.Exists(key))
}

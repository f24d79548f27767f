package backends

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/settingsfile"
	"github.com/smartwatch/blobdb/internal/status"
)

func openAppGlanceForTest(t *testing.T) (*AppGlance, *fakeAppCache, *fakeEventSink) {
	t.Helper()
	file, err := settingsfile.Open(filepath.Join(t.TempDir(), "appglancedb"), 64*1024)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })
	apps := newFakeAppCache()
	events := &fakeEventSink{}
	return NewAppGlance(file, apps, events), apps, events
}

func glanceValue(creationTime int64, slices ...[]byte) []byte {
	return encodeGlanceRecord(glanceRecord{version: AppGlanceCurrentVersion, creationTime: creationTime, slices: slices})
}

func TestAppGlanceRejectsUninstalledApp(t *testing.T) {
	g, _, _ := openAppGlanceForTest(t)
	appID := uuid.New()
	err := g.Insert(appID[:], glanceValue(1, []byte{1}), blobdb.OriginLocal)
	require.ErrorIs(t, err, status.InvalidOp)
}

func TestAppGlanceRequiresStrictlyIncreasingCreationTime(t *testing.T) {
	g, apps, _ := openAppGlanceForTest(t)
	appID := uuid.New()
	var appIDBytes [16]byte
	copy(appIDBytes[:], appID[:])
	apps.installed[appIDBytes] = true

	require.NoError(t, g.Insert(appID[:], glanceValue(10, []byte{1}), blobdb.OriginLocal))
	err := g.Insert(appID[:], glanceValue(10, []byte{1}), blobdb.OriginLocal)
	require.ErrorIs(t, err, status.InvalidArg)
	err = g.Insert(appID[:], glanceValue(9, []byte{1}), blobdb.OriginLocal)
	require.ErrorIs(t, err, status.InvalidArg)

	stored, readErr := g.Read(appID[:])
	require.NoError(t, readErr)
	require.Equal(t, glanceValue(10, []byte{1}), stored)

	require.NoError(t, g.Insert(appID[:], glanceValue(11, []byte{1}), blobdb.OriginLocal))
}

func TestAppGlanceTrimsExcessSlices(t *testing.T) {
	g, apps, _ := openAppGlanceForTest(t)
	appID := uuid.New()
	var appIDBytes [16]byte
	copy(appIDBytes[:], appID[:])
	apps.installed[appIDBytes] = true

	slices := make([][]byte, MaxAppGlanceSlices+3)
	for i := range slices {
		slices[i] = []byte{byte(i)}
	}
	require.NoError(t, g.Insert(appID[:], glanceValue(1, slices...), blobdb.OriginLocal))

	raw, err := g.Read(appID[:])
	require.NoError(t, err)
	rec, err := decodeGlanceRecord(raw)
	require.NoError(t, err)
	require.Len(t, rec.slices, MaxAppGlanceSlices)
}

func TestAppGlanceRejectsMalformedSlice(t *testing.T) {
	g, apps, _ := openAppGlanceForTest(t)
	appID := uuid.New()
	var appIDBytes [16]byte
	copy(appIDBytes[:], appID[:])
	apps.installed[appIDBytes] = true

	err := g.Insert(appID[:], glanceValue(1, []byte{}), blobdb.OriginLocal)
	require.ErrorIs(t, err, status.InvalidArg)
}

func TestAppGlanceStaleVersionDeletesAndReportsNotFound(t *testing.T) {
	g, apps, _ := openAppGlanceForTest(t)
	appID := uuid.New()
	var appIDBytes [16]byte
	copy(appIDBytes[:], appID[:])
	apps.installed[appIDBytes] = true
	require.NoError(t, g.Insert(appID[:], glanceValue(1, []byte{1}), blobdb.OriginLocal))

	stale := encodeGlanceRecord(glanceRecord{version: AppGlanceCurrentVersion + 1, creationTime: 2, slices: [][]byte{{1}}})
	require.NoError(t, g.file.Set(appID[:], stale))

	_, err := g.Read(appID[:])
	require.ErrorIs(t, err, status.NotFound)
	require.False(t, g.file.Exists(appID[:]))
}

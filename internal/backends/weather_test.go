package backends

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/settingsfile"
	"github.com/smartwatch/blobdb/internal/status"
)

func TestWeatherStaleVersionDeletesAndReportsNotFound(t *testing.T) {
	file, err := settingsfile.Open(filepath.Join(t.TempDir(), "weatherdb"), 64*1024)
	require.NoError(t, err)
	defer file.Close()
	w := NewWeather(file)

	require.NoError(t, w.Insert([]byte("k"), []byte{WeatherCurrentVersion, 1, 2, 3}, blobdb.OriginLocal))
	require.NoError(t, file.Set([]byte("k"), []byte{WeatherCurrentVersion + 1, 9}))

	_, err = w.Read([]byte("k"))
	require.ErrorIs(t, err, status.NotFound)
	require.False(t, file.Exists([]byte("k")))
}

func TestWeatherExcludedFromDirtyTracking(t *testing.T) {
	file, err := settingsfile.Open(filepath.Join(t.TempDir(), "weatherdb"), 64*1024)
	require.NoError(t, err)
	defer file.Close()
	w := NewWeather(file)
	require.NoError(t, w.Insert([]byte("k"), []byte{WeatherCurrentVersion, 1}, blobdb.OriginLocal))

	_, err = w.IsDirty()
	require.ErrorIs(t, err, status.InvalidOp)
}

func TestContactsSupportsDirtyTracking(t *testing.T) {
	file, err := settingsfile.Open(filepath.Join(t.TempDir(), "contactsdb"), 64*1024)
	require.NoError(t, err)
	defer file.Close()
	c := NewContacts(file)
	require.NoError(t, c.Insert([]byte("k"), []byte{ContactsCurrentVersion, 1}, blobdb.OriginLocal))

	dirty, err := c.IsDirty()
	require.NoError(t, err)
	require.True(t, dirty)
}

func TestNotifsExcludedFromDirtyTracking(t *testing.T) {
	file, err := settingsfile.Open(filepath.Join(t.TempDir(), "notifsdb"), 64*1024)
	require.NoError(t, err)
	defer file.Close()
	n := NewNotifs(file)
	require.NoError(t, n.Insert([]byte("k"), []byte("v"), blobdb.OriginLocal))

	_, err = n.IsDirty()
	require.ErrorIs(t, err, status.InvalidOp)
}

func TestIosNotifPrefsSupportsDirtyTracking(t *testing.T) {
	file, err := settingsfile.Open(filepath.Join(t.TempDir(), "iosnotifprefsdb"), 64*1024)
	require.NoError(t, err)
	defer file.Close()
	p := NewIosNotifPrefs(file)
	require.NoError(t, p.Insert([]byte("k"), []byte("v"), blobdb.OriginLocal))

	dirty, err := p.IsDirty()
	require.NoError(t, err)
	require.True(t, dirty)
}

func TestWatchAppPrefsStaleVersionDeletesAndReportsNotFound(t *testing.T) {
	file, err := settingsfile.Open(filepath.Join(t.TempDir(), "watchappprefsdb"), 64*1024)
	require.NoError(t, err)
	defer file.Close()
	w := NewWatchAppPrefs(file)

	require.NoError(t, w.Insert([]byte("k"), []byte{WatchAppPrefsCurrentVersion, 1}, blobdb.OriginLocal))
	require.NoError(t, file.Set([]byte("k"), []byte{WatchAppPrefsCurrentVersion + 1, 9}))

	_, err = w.Read([]byte("k"))
	require.ErrorIs(t, err, status.NotFound)
}

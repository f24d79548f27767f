package backends

import "github.com/smartwatch/blobdb/internal/settingsfile"

// WatchAppPrefsCurrentVersion is the version byte current
// WatchAppPrefs records must carry.
const WatchAppPrefsCurrentVersion = 1

// WatchAppPrefs backs the WatchAppPrefs namespace: versioned records
// with normal dirty tracking.
type WatchAppPrefs struct {
	*versionedBackend
}

func NewWatchAppPrefs(file *settingsfile.SettingsFile) *WatchAppPrefs {
	return &WatchAppPrefs{versionedBackend: newVersionedBackend(file, WatchAppPrefsCurrentVersion, true, "watchappprefs")}
}

package backends

import "github.com/smartwatch/blobdb/internal/settingsfile"

// IosNotifPrefs backs the IosNotifPrefs namespace: a plain SettingsFile
// passthrough with normal dirty tracking, no versioning.
type IosNotifPrefs struct {
	*passthroughBackend
}

func NewIosNotifPrefs(file *settingsfile.SettingsFile) *IosNotifPrefs {
	return &IosNotifPrefs{passthroughBackend: newPassthroughBackend(file, true, "iosnotifprefs")}
}

package backends

import "github.com/smartwatch/blobdb/internal/settingsfile"

// Notifs backs the Notifs namespace: a plain SettingsFile passthrough,
// excluded from get_dirty_dbs per spec.md §4.4.
type Notifs struct {
	*passthroughBackend
}

func NewNotifs(file *settingsfile.SettingsFile) *Notifs {
	return &Notifs{passthroughBackend: newPassthroughBackend(file, false, "notifs")}
}

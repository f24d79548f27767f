package backends

import "github.com/smartwatch/blobdb/internal/settingsfile"

// ContactsCurrentVersion is the version byte current Contacts records
// must carry.
const ContactsCurrentVersion = 1

// Contacts backs the Contacts namespace: versioned records with normal
// dirty tracking (unlike Weather, it is not in spec.md §4.4's
// excluded-from-get_dirty_dbs list).
type Contacts struct {
	*versionedBackend
}

func NewContacts(file *settingsfile.SettingsFile) *Contacts {
	return &Contacts{versionedBackend: newVersionedBackend(file, ContactsCurrentVersion, true, "contacts")}
}

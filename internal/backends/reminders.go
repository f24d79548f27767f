package backends

import (
	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/settingsfile"
	"github.com/smartwatch/blobdb/internal/timeline"
)

// Reminders backs the Reminders namespace: a plain timeline.Storage
// with none of pins' app-fetch policy. Its DeleteWithParent is also
// the target of the pins→reminders cascade delete.
type Reminders struct {
	storage *timeline.Storage
}

func NewReminders(storage *timeline.Storage) *Reminders {
	return &Reminders{storage: storage}
}

func (r *Reminders) Init() error { return nil }

func (r *Reminders) Insert(key, value []byte, origin blobdb.Origin) error {
	state := timeline.SyncStateDirty
	if origin == blobdb.OriginPeer {
		state = timeline.SyncStatePeer
	}
	return r.storage.Insert(key, value, state)
}

func (r *Reminders) Read(key []byte) ([]byte, error) { return r.storage.ReadRaw(key) }

func (r *Reminders) GetLen(key []byte) (int, error) { return r.storage.GetLen(key) }

func (r *Reminders) Delete(key []byte) error { return r.storage.Delete(key) }

func (r *Reminders) Flush() error { return r.storage.Flush() }

func (r *Reminders) IsDirty() (bool, error) { return r.storage.IsDirty() }

func (r *Reminders) GetDirtyList() ([]blobdb.DirtyRecord, error) {
	recs, err := r.storage.GetDirtyList()
	if err != nil {
		return nil, err
	}
	return toBlobDirty(recs), nil
}

func (r *Reminders) MarkSynced(key []byte) error { return r.storage.MarkSynced(key) }

// Storage exposes the underlying timeline.Storage so the Pins backend
// can route its cascade delete without an import cycle through blobdb.
func (r *Reminders) Storage() *timeline.Storage { return r.storage }

// Stats reports the backing file's diagnostic snapshot.
func (r *Reminders) Stats() settingsfile.Stats { return r.storage.Stats() }

// Package backends implements the per-namespace BlobDB adapters of
// spec.md §4.4: pins, reminders, weather, contacts, ios-notif-prefs,
// app-glance, app, health, watch-app-prefs and prefs. Each wraps either
// a settingsfile.SettingsFile or a timeline.Storage and adds its own
// validation and post-insert side effects.
package backends

import (
	"github.com/sirupsen/logrus"

	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/settingsfile"
	"github.com/smartwatch/blobdb/internal/status"
	"github.com/smartwatch/blobdb/internal/timeline"
)

// toBlobDirty adapts a timeline.Storage dirty list to the
// blobdb.DirtyRecord shape the façade's Backend interface requires;
// the two packages keep distinct types to avoid timeline importing
// blobdb.
func toBlobDirty(recs []timeline.DirtyRecord) []blobdb.DirtyRecord {
	out := make([]blobdb.DirtyRecord, len(recs))
	for i, r := range recs {
		out[i] = blobdb.DirtyRecord{Key: r.Key, LastModified: r.LastModified}
	}
	return out
}

// AppCache reports, per app id, whether an app's bundle is cached
// on-watch and lets a backend bump its LRU recency. It is the seam
// pins and app-glance mutate through instead of reaching into the Apps
// backend's storage directly (spec.md §1 treats app storage as an
// external collaborator).
type AppCache interface {
	Installed(appID [16]byte) bool
	Cached(appID [16]byte) bool
	TouchLaunched(appID [16]byte)
}

// EventSink receives the side-channel signal a namespace raises when
// an app referenced by a record isn't cached on-watch yet.
type EventSink interface {
	AppFetchRequest(appID [16]byte)
}

// AppFetchBus is the default EventSink: a best-effort buffered queue of
// app ids the phone should push, mirroring blobdb.Facade.emit's
// drop-when-full policy rather than blocking the insert that produced
// the request.
type AppFetchBus struct {
	ch  chan [16]byte
	log *logrus.Entry
}

func NewAppFetchBus() *AppFetchBus {
	return &AppFetchBus{ch: make(chan [16]byte, 64), log: logrus.WithField("component", "appfetch")}
}

func (b *AppFetchBus) AppFetchRequest(appID [16]byte) {
	select {
	case b.ch <- appID:
	default:
		b.log.WithField("app", appID).Warn("app fetch queue full, dropping request")
	}
}

// Requests returns the channel of pending app fetch requests.
func (b *AppFetchBus) Requests() <-chan [16]byte { return b.ch }

// settingsDirty walks file reporting whether any live record carries
// the dirty bit, the same traversal timeline.Storage.IsDirty uses.
func settingsDirty(file *settingsfile.SettingsFile) (bool, error) {
	dirty := false
	err := file.Each(func(info settingsfile.RecordInfo) error {
		if info.Dirty {
			dirty = true
		}
		return nil
	})
	return dirty, err
}

// settingsDirtyList collects every live dirty record's key and
// last-modified time.
func settingsDirtyList(file *settingsfile.SettingsFile) ([]blobdb.DirtyRecord, error) {
	var out []blobdb.DirtyRecord
	err := file.Each(func(info settingsfile.RecordInfo) error {
		if info.Dirty {
			out = append(out, blobdb.DirtyRecord{Key: info.GetKey(), LastModified: info.LastModified.Unix()})
		}
		return nil
	})
	return out, err
}

// passthroughBackend is a SettingsFile wrapped as a blobdb.Backend with
// no namespace-specific validation: ios-notif-prefs, notifs and the
// Test database all use it as-is. dirtyTracking selects whether
// IsDirty/GetDirtyList/MarkSynced are implemented or collapse to
// status.InvalidOp, per spec.md §4.4's "excluded from get_dirty_dbs"
// list.
type passthroughBackend struct {
	file          *settingsfile.SettingsFile
	dirtyTracking bool
	log           *logrus.Entry
}

func newPassthroughBackend(file *settingsfile.SettingsFile, dirtyTracking bool, component string) *passthroughBackend {
	return &passthroughBackend{
		file:          file,
		dirtyTracking: dirtyTracking,
		log:           logrus.WithField("component", component),
	}
}

func (b *passthroughBackend) Init() error { return nil }

func (b *passthroughBackend) Insert(key, value []byte, origin blobdb.Origin) error {
	if origin == blobdb.OriginPeer {
		return b.file.SetSynced(key, value)
	}
	return b.file.Set(key, value)
}

func (b *passthroughBackend) Read(key []byte) ([]byte, error) { return b.file.Get(key) }

func (b *passthroughBackend) GetLen(key []byte) (int, error) { return b.file.GetLen(key) }

func (b *passthroughBackend) Delete(key []byte) error { return b.file.Delete(key) }

func (b *passthroughBackend) Flush() error { return b.file.Rewrite(nil) }

func (b *passthroughBackend) IsDirty() (bool, error) {
	if !b.dirtyTracking {
		return false, status.InvalidOp
	}
	return settingsDirty(b.file)
}

func (b *passthroughBackend) GetDirtyList() ([]blobdb.DirtyRecord, error) {
	if !b.dirtyTracking {
		return nil, status.InvalidOp
	}
	return settingsDirtyList(b.file)
}

func (b *passthroughBackend) MarkSynced(key []byte) error {
	if !b.dirtyTracking {
		return status.InvalidOp
	}
	return b.file.MarkSynced(key)
}

// Stats reports the backing file's diagnostic snapshot, for
// cmd/blobdbctl's stats command.
func (b *passthroughBackend) Stats() settingsfile.Stats { return b.file.Stats() }

// versionedBackend adds the "version byte at a known offset" staleness
// policy of spec.md §4.4 (weather, contacts, watch-app-prefs): a read
// of a record whose version byte doesn't match currentVersion deletes
// the stale record and reports status.NotFound.
type versionedBackend struct {
	*passthroughBackend
	currentVersion byte
	name           string
}

func newVersionedBackend(file *settingsfile.SettingsFile, currentVersion byte, dirtyTracking bool, component string) *versionedBackend {
	return &versionedBackend{
		passthroughBackend: newPassthroughBackend(file, dirtyTracking, component),
		currentVersion:     currentVersion,
		name:               component,
	}
}

func (b *versionedBackend) Insert(key, value []byte, origin blobdb.Origin) error {
	if len(value) < 1 {
		return status.Wrap(status.InvalidArg, "%s: value missing version byte", b.name)
	}
	if value[0] != b.currentVersion {
		return status.Wrap(status.InvalidArg, "%s: version %d does not match current %d", b.name, value[0], b.currentVersion)
	}
	return b.passthroughBackend.Insert(key, value, origin)
}

func (b *versionedBackend) Read(key []byte) ([]byte, error) {
	raw, err := b.file.Get(key)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || raw[0] != b.currentVersion {
		if delErr := b.file.Delete(key); delErr != nil {
			b.log.WithError(delErr).Warn("failed to delete stale versioned record")
		}
		return nil, status.NotFound
	}
	return raw, nil
}

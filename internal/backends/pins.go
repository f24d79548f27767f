package backends

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/settingsfile"
	"github.com/smartwatch/blobdb/internal/status"
	"github.com/smartwatch/blobdb/internal/timeline"
)

// Pins backs the Pins namespace: a timeline.Storage plus the
// app-fetch/cache-bump/orphan-acceptance policy and the pins→reminders
// cascade delete of spec.md §4.4.
type Pins struct {
	storage         *timeline.Storage
	reminders       *timeline.Storage
	apps            AppCache
	events          EventSink
	remindersSource uuid.UUID
	log             *logrus.Entry
}

// NewPins wires a Pins backend. remindersSource is the watch-internal
// parent uuid that marks a pin as originating from the reminders data
// source rather than a phone-installed app; reminders is the
// Reminders namespace's storage, used for the cascade delete.
func NewPins(storage, reminders *timeline.Storage, apps AppCache, events EventSink, remindersSource uuid.UUID) *Pins {
	return &Pins{
		storage:         storage,
		reminders:       reminders,
		apps:            apps,
		events:          events,
		remindersSource: remindersSource,
		log:             logrus.WithField("component", "pins"),
	}
}

func (p *Pins) Init() error { return nil }

// Insert stores the pin, then applies the app-fetch/cache-bump policy:
// a pin whose parent is the reminders data source is marked dirty and
// unsynced to trigger outbound sync and needs no app lookup. Any other
// pin, if locally originated, starts synced; its parent id is treated
// as an app id and looked up in apps — an uninstalled app is an
// orphan-acceptance case (the pin already persisted, log and return),
// an installed-but-uncached app raises an AppFetchRequest, and an
// installed-and-cached app bumps the cache's LRU.
func (p *Pins) Insert(key, value []byte, origin blobdb.Origin) error {
	it, err := timeline.Decode(value)
	if err != nil {
		return status.Wrap(status.InvalidArg, "pins: decode: %v", err)
	}
	fromRemindersSource := it.Header.ParentID == p.remindersSource

	state := timeline.SyncStateDirty
	switch {
	case origin == blobdb.OriginPeer:
		state = timeline.SyncStatePeer
	case origin == blobdb.OriginLocal && !fromRemindersSource:
		state = timeline.SyncStatePresynced
	}
	if err := p.storage.Insert(key, value, state); err != nil {
		return err
	}
	if fromRemindersSource {
		return nil
	}

	appID := it.Header.ParentID
	if !p.apps.Installed(appID) {
		p.log.WithField("app", appID).Debug("pin references uninstalled app; accepting as orphan")
		return nil
	}
	if !p.apps.Cached(appID) {
		p.events.AppFetchRequest(appID)
	} else {
		p.apps.TouchLaunched(appID)
	}
	return nil
}

func (p *Pins) Read(key []byte) ([]byte, error) { return p.storage.ReadRaw(key) }

func (p *Pins) GetLen(key []byte) (int, error) { return p.storage.GetLen(key) }

// Delete removes the pin, then cascades to the Reminders namespace,
// dropping any child reminder whose ParentID is this pin's uuid.
func (p *Pins) Delete(key []byte) error {
	if err := p.storage.Delete(key); err != nil {
		return err
	}
	parent, err := uuid.FromBytes(key)
	if err != nil {
		return nil
	}
	if p.reminders != nil {
		if _, cascadeErr := p.reminders.DeleteWithParent(parent, nil); cascadeErr != nil {
			p.log.WithError(cascadeErr).Warn("reminders cascade delete failed")
		}
	}
	return nil
}

func (p *Pins) Flush() error { return p.storage.Flush() }

func (p *Pins) IsDirty() (bool, error) { return p.storage.IsDirty() }

func (p *Pins) GetDirtyList() ([]blobdb.DirtyRecord, error) {
	recs, err := p.storage.GetDirtyList()
	if err != nil {
		return nil, err
	}
	return toBlobDirty(recs), nil
}

func (p *Pins) MarkSynced(key []byte) error { return p.storage.MarkSynced(key) }

// Stats reports the backing file's diagnostic snapshot.
func (p *Pins) Stats() settingsfile.Stats { return p.storage.Stats() }

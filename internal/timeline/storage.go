package timeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smartwatch/blobdb/internal/settingsfile"
	"github.com/smartwatch/blobdb/internal/status"
)

// MaxChildrenPerPin bounds how many children a single
// DeleteWithParent scan will collect and delete (ExistsWithParent
// needs only the first match and does not use it), per spec.md §4.3: "a deliberate choice — repeated calls drain the
// remainder."
const MaxChildrenPerPin = 32

// SyncState tells Insert which dirty/synced bits to store the record
// with. The two "already synced" cases are distinct: a locally
// originated "other pin" is presynced but still dirty (it still needs
// an outbound writeback so the phone's own copy agrees), while a
// peer-originated insert is synced and NOT dirty (it must not be
// echoed straight back to the peer that just sent it).
type SyncState int

const (
	// SyncStateDirty stores dirty=true, synced=false: the default for
	// a fresh local mutation awaiting its first outbound sync.
	SyncStateDirty SyncState = iota
	// SyncStatePresynced stores dirty=true, synced=true: a locally
	// originated record that starts considered synced but still flows
	// through the normal outbound writeback path.
	SyncStatePresynced
	// SyncStatePeer stores dirty=false, synced=true: a peer-originated
	// record, which must not come back around as dirty.
	SyncStatePeer
)

// Storage adds TTL rejection, parent/child scans, the status-byte hot
// path and from-watch-preserving flush on top of a SettingsFile.
type Storage struct {
	file        *settingsfile.SettingsFile
	maxItemAge  time.Duration
	log         *logrus.Entry
	now         func() time.Time
}

// Open opens (or creates) the namespace file at path and wraps it as
// timeline item storage. maxItemAge is the per-namespace TTL from
// spec.md §4.3 (left as a parameter since §9's Open Question notes the
// pins/reminders value isn't the same).
func Open(path string, maxFileSize int, maxItemAge time.Duration) (*Storage, error) {
	sf, err := settingsfile.Open(path, maxFileSize)
	if err != nil {
		return nil, err
	}
	return &Storage{
		file:       sf,
		maxItemAge: maxItemAge,
		log:        logrus.WithField("component", "timeline"),
		now:        time.Now,
	}, nil
}

func (s *Storage) Close() error { return s.file.Close() }

// Insert validates, TTL-checks and stores a timeline item. key must be
// the item's 16-byte UUID; value is the item's Encode-d bytes.
func (s *Storage) Insert(key, value []byte, state SyncState) error {
	if len(key) != 16 {
		return status.Wrap(status.InvalidArg, "timeline key must be a 16-byte uuid, got %d", len(key))
	}
	if len(value) < HeaderSize {
		return status.Wrap(status.InvalidArg, "value shorter than header (%d < %d)", len(value), HeaderSize)
	}
	if len(value) > settingsfile.MaxValueLen {
		return status.Wrap(status.InvalidArg, "value too large (%d)", len(value))
	}
	it, err := Decode(value)
	if err != nil {
		return status.Wrap(status.InvalidArg, "decode: %v", err)
	}
	if !VerifyLayout(it) {
		return status.Wrap(status.InvalidArg, "payload missing attributes required by layout %d", it.Header.Layout)
	}
	if it.EndTime() < s.now().Unix()-int64(s.maxItemAge/time.Second) {
		return status.Wrap(status.InvalidOp, "item %s is stale (end_time %d)", it.Header.ID, it.EndTime())
	}
	switch state {
	case SyncStatePeer:
		return s.file.SetSynced(key, value)
	case SyncStatePresynced:
		if err := s.file.Set(key, value); err != nil {
			return err
		}
		return s.file.MarkSynced(key)
	default:
		return s.file.Set(key, value)
	}
}

// Read returns the decoded item for key. A buffer shorter than the
// stored value on the caller's side is not this layer's concern — the
// "partial read" contract lives in Decode, which happily returns a
// header-only Item when handed exactly HeaderSize bytes.
func (s *Storage) Read(key []byte) (Item, error) {
	raw, err := s.file.Get(key)
	if err != nil {
		return Item{}, err
	}
	return Decode(raw)
}

// ReadRaw returns the stored bytes for key without decoding, for
// callers (like the sync engine) that only need to transmit them.
func (s *Storage) ReadRaw(key []byte) ([]byte, error) {
	return s.file.Get(key)
}

func (s *Storage) Delete(key []byte) error { return s.file.Delete(key) }

func (s *Storage) Exists(key []byte) bool { return s.file.Exists(key) }

func (s *Storage) GetLen(key []byte) (int, error) { return s.file.GetLen(key) }

func (s *Storage) MarkSynced(key []byte) error { return s.file.MarkSynced(key) }

// SetStatusBits patches the header's Status byte in place: the hot
// path for marking a pin dismissed or actioned without a full rewrite.
func (s *Storage) SetStatusBits(key []byte, statusByte uint8) error {
	return s.file.SetByte(key, statusByteOffset, ^statusByte)
}

// DeleteWithParent scans for up to MaxChildrenPerPin children of
// parentID, deletes each, and calls onDelete (if non-nil) after each
// deletion. There is no secondary index: this is a full linear scan,
// capped to bound stack and time use per spec.md §4.3.
func (s *Storage) DeleteWithParent(parentID uuid.UUID, onDelete func(childKey []byte)) (int, error) {
	var toDelete [][]byte
	err := s.file.Each(func(info settingsfile.RecordInfo) error {
		if info.Tombstone || len(toDelete) >= MaxChildrenPerPin {
			return nil
		}
		raw := info.GetVal()
		it, err := Decode(raw)
		if err != nil {
			return nil
		}
		if it.Header.ParentID == parentID {
			toDelete = append(toDelete, info.GetKey())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, key := range toDelete {
		if err := s.file.Delete(key); err != nil {
			continue
		}
		deleted++
		if onDelete != nil {
			onDelete(key)
		}
	}
	return deleted, nil
}

// ExistsWithParent short-circuits on the first match.
func (s *Storage) ExistsWithParent(parentID uuid.UUID) (bool, error) {
	found := false
	err := s.file.Each(func(info settingsfile.RecordInfo) error {
		if found || info.Tombstone {
			return nil
		}
		it, err := Decode(info.GetVal())
		if err != nil {
			return nil
		}
		if it.Header.ParentID == parentID {
			found = true
		}
		return nil
	})
	return found, err
}

// NextItem walks every live record, excludes tombstones and items
// older than now-maxItemAge, applies the optional filter, and returns
// the uuid of the one with the smallest Created timestamp still in
// range. ok is false if nothing qualifies.
func (s *Storage) NextItem(filter func(Item) bool) (id uuid.UUID, ok bool, err error) {
	cutoff := s.now().Unix() - int64(s.maxItemAge/time.Second)
	var best Item
	haveBest := false
	err = s.file.Each(func(info settingsfile.RecordInfo) error {
		if info.Tombstone {
			return nil
		}
		it, decErr := Decode(info.GetVal())
		if decErr != nil {
			return nil
		}
		if it.Header.Created < cutoff {
			return nil
		}
		if filter != nil && !filter(it) {
			return nil
		}
		if !haveBest || it.Header.Created < best.Header.Created {
			best = it
			haveBest = true
		}
		return nil
	})
	if err != nil {
		return uuid.UUID{}, false, err
	}
	if !haveBest {
		return uuid.UUID{}, false, nil
	}
	return best.Header.ID, true, nil
}

// Flush rewrites the namespace keeping only records whose on-disk
// FromWatch flag is set, discarding everything the phone pushed.
func (s *Storage) Flush() error {
	return s.file.Rewrite(func(info settingsfile.RecordInfo) (settingsfile.Decision, []byte) {
		if info.Tombstone {
			return settingsfile.Drop, nil
		}
		it, err := Decode(info.GetVal())
		if err != nil {
			return settingsfile.Drop, nil
		}
		if it.Header.Flags&FlagFromWatch != 0 {
			return settingsfile.Keep, nil
		}
		return settingsfile.Drop, nil
	})
}

func (s *Storage) IsDirty() (bool, error) {
	dirty := false
	err := s.file.Each(func(info settingsfile.RecordInfo) error {
		if info.Dirty {
			dirty = true
		}
		return nil
	})
	return dirty, err
}

func (s *Storage) GetDirtyList() ([]DirtyRecord, error) {
	var out []DirtyRecord
	err := s.file.Each(func(info settingsfile.RecordInfo) error {
		if info.Dirty {
			out = append(out, DirtyRecord{Key: info.GetKey(), LastModified: info.LastModified.Unix()})
		}
		return nil
	})
	return out, err
}

// Stats reports the backing file's diagnostic snapshot.
func (s *Storage) Stats() settingsfile.Stats { return s.file.Stats() }

// DirtyRecord mirrors blobdb.DirtyRecord without importing package
// blobdb, avoiding an import cycle (backends adapts between the two).
type DirtyRecord struct {
	Key          []byte
	LastModified int64
}

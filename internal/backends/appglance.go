package backends

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/settingsfile"
	"github.com/smartwatch/blobdb/internal/status"
)

// AppGlanceCurrentVersion is the version byte current AppGlance
// records must carry.
const AppGlanceCurrentVersion = 1

// MaxAppGlanceSlices bounds the number of slices a single glance
// record may carry; a payload reporting more is silently trimmed.
const MaxAppGlanceSlices = 8

// glanceRecord is the decoded form of an AppGlance value: version byte,
// an 8-byte creation_time and a length-prefixed list of opaque slices,
// each itself length-prefixed.
type glanceRecord struct {
	version      byte
	creationTime int64
	slices       [][]byte
}

func encodeGlanceRecord(r glanceRecord) []byte {
	buf := make([]byte, 1+8)
	buf[0] = r.version
	binary.LittleEndian.PutUint64(buf[1:9], uint64(r.creationTime))
	out := appendUint16Glance(nil, uint16(len(r.slices)))
	for _, s := range r.slices {
		out = appendUint16Glance(out, uint16(len(s)))
		out = append(out, s...)
	}
	return append(buf, out...)
}

func appendUint16Glance(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func decodeGlanceRecord(buf []byte) (glanceRecord, error) {
	if len(buf) < 9 {
		return glanceRecord{}, status.Wrap(status.InvalidArg, "appglance: record shorter than fixed header")
	}
	r := glanceRecord{
		version:      buf[0],
		creationTime: int64(binary.LittleEndian.Uint64(buf[1:9])),
	}
	p := buf[9:]
	pos := 0
	readU16 := func() (uint16, error) {
		if pos+2 > len(p) {
			return 0, status.Wrap(status.InvalidArg, "appglance: truncated slice list")
		}
		v := binary.LittleEndian.Uint16(p[pos : pos+2])
		pos += 2
		return v, nil
	}
	numSlices, err := readU16()
	if err != nil {
		return glanceRecord{}, err
	}
	for i := 0; i < int(numSlices); i++ {
		sl, err := readU16()
		if err != nil {
			return glanceRecord{}, err
		}
		if pos+int(sl) > len(p) {
			return glanceRecord{}, status.Wrap(status.InvalidArg, "appglance: truncated slice")
		}
		r.slices = append(r.slices, append([]byte(nil), p[pos:pos+int(sl)]...))
		pos += int(sl)
	}
	return r, nil
}

// validSlice enforces the "slice-by-slice structural validation" of
// spec.md §4.4: a slice must carry at least a one-byte layout id.
func validSlice(s []byte) bool { return len(s) >= 1 }

// AppGlance backs the AppGlance namespace. It enforces version match,
// strictly-increasing creation_time per uuid, per-slice structural
// validation and silent trimming of excess slices; unlike Pins, a
// reference to an uninstalled app is rejected outright rather than
// accepted as an orphan (spec.md §9's preserved asymmetry).
type AppGlance struct {
	file   *settingsfile.SettingsFile
	apps   AppCache
	events EventSink
	log    *logrus.Entry
}

func NewAppGlance(file *settingsfile.SettingsFile, apps AppCache, events EventSink) *AppGlance {
	return &AppGlance{file: file, apps: apps, events: events, log: logrus.WithField("component", "appglance")}
}

func (g *AppGlance) Init() error { return nil }

func (g *AppGlance) Insert(key, value []byte, origin blobdb.Origin) error {
	if len(key) != 16 {
		return status.Wrap(status.InvalidArg, "appglance: key must be a 16-byte app uuid, got %d", len(key))
	}
	rec, err := decodeGlanceRecord(value)
	if err != nil {
		return err
	}
	if rec.version != AppGlanceCurrentVersion {
		return status.Wrap(status.InvalidArg, "appglance: version %d does not match current %d", rec.version, AppGlanceCurrentVersion)
	}
	if existing, err := g.file.Get(key); err == nil {
		if old, decErr := decodeGlanceRecord(existing); decErr == nil && rec.creationTime <= old.creationTime {
			return status.Wrap(status.InvalidArg, "appglance: creation_time %d not greater than existing %d", rec.creationTime, old.creationTime)
		}
	}
	for _, s := range rec.slices {
		if !validSlice(s) {
			return status.Wrap(status.InvalidArg, "appglance: malformed slice")
		}
	}
	if len(rec.slices) > MaxAppGlanceSlices {
		g.log.WithField("count", len(rec.slices)).Debug("trimming excess app glance slices")
		rec.slices = rec.slices[:MaxAppGlanceSlices]
	}

	var appID [16]byte
	copy(appID[:], key)
	if !g.apps.Installed(appID) {
		return status.Wrap(status.InvalidOp, "appglance: app %s is not installed", uuid.Must(uuid.FromBytes(key)))
	}

	encoded := encodeGlanceRecord(rec)
	if origin == blobdb.OriginPeer {
		if err := g.file.SetSynced(key, encoded); err != nil {
			return err
		}
	} else {
		if err := g.file.Set(key, encoded); err != nil {
			return err
		}
	}

	if !g.apps.Cached(appID) {
		g.events.AppFetchRequest(appID)
	} else {
		g.apps.TouchLaunched(appID)
	}
	return nil
}

func (g *AppGlance) Read(key []byte) ([]byte, error) {
	raw, err := g.file.Get(key)
	if err != nil {
		return nil, err
	}
	if len(raw) < 1 || raw[0] != AppGlanceCurrentVersion {
		if delErr := g.file.Delete(key); delErr != nil {
			g.log.WithError(delErr).Warn("failed to delete stale app glance record")
		}
		return nil, status.NotFound
	}
	return raw, nil
}

func (g *AppGlance) GetLen(key []byte) (int, error) { return g.file.GetLen(key) }

func (g *AppGlance) Delete(key []byte) error { return g.file.Delete(key) }

func (g *AppGlance) Flush() error { return g.file.Rewrite(nil) }

func (g *AppGlance) IsDirty() (bool, error) { return settingsDirty(g.file) }

func (g *AppGlance) GetDirtyList() ([]blobdb.DirtyRecord, error) { return settingsDirtyList(g.file) }

func (g *AppGlance) MarkSynced(key []byte) error { return g.file.MarkSynced(key) }

// Stats reports the backing file's diagnostic snapshot.
func (g *AppGlance) Stats() settingsfile.Stats { return g.file.Stats() }

package backends

import (
	"encoding/binary"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/settingsfile"
	"github.com/smartwatch/blobdb/internal/status"
)

// appRecord is the value stored under an app id: installed/cached
// flags plus the last-launched timestamp used for LRU.
type appRecord struct {
	installed    bool
	cached       bool
	lastLaunched int64
}

const appRecordLen = 1 + 1 + 8

func encodeAppRecord(r appRecord) []byte {
	buf := make([]byte, appRecordLen)
	if r.installed {
		buf[0] = 1
	}
	if r.cached {
		buf[1] = 1
	}
	binary.LittleEndian.PutUint64(buf[2:10], uint64(r.lastLaunched))
	return buf
}

func decodeAppRecord(buf []byte) (appRecord, bool) {
	if len(buf) < appRecordLen {
		return appRecord{}, false
	}
	return appRecord{
		installed:    buf[0] != 0,
		cached:       buf[1] != 0,
		lastLaunched: int64(binary.LittleEndian.Uint64(buf[2:10])),
	}, true
}

// App backs the Apps namespace and doubles as the AppCache collaborator
// consumed by Pins and AppGlance: install/cache state lives in the same
// SettingsFile as the rest of the app registry. It is excluded from
// get_dirty_dbs per spec.md §4.4.
type App struct {
	file *settingsfile.SettingsFile
	sf   singleflight.Group
	log  *logrus.Entry
}

func NewApp(file *settingsfile.SettingsFile) *App {
	return &App{file: file, log: logrus.WithField("component", "app")}
}

func (a *App) Init() error { return nil }

func (a *App) Insert(key, value []byte, origin blobdb.Origin) error {
	if origin == blobdb.OriginPeer {
		return a.file.SetSynced(key, value)
	}
	return a.file.Set(key, value)
}

func (a *App) Read(key []byte) ([]byte, error) { return a.file.Get(key) }

func (a *App) GetLen(key []byte) (int, error) { return a.file.GetLen(key) }

func (a *App) Delete(key []byte) error { return a.file.Delete(key) }

func (a *App) Flush() error { return a.file.Rewrite(nil) }

func (a *App) IsDirty() (bool, error) { return false, status.InvalidOp }

func (a *App) GetDirtyList() ([]blobdb.DirtyRecord, error) { return nil, status.InvalidOp }

func (a *App) MarkSynced(key []byte) error { return status.InvalidOp }

// Stats reports the backing file's diagnostic snapshot.
func (a *App) Stats() settingsfile.Stats { return a.file.Stats() }

func (a *App) record(appID [16]byte) (appRecord, bool) {
	raw, err := a.file.Get(appID[:])
	if err != nil {
		return appRecord{}, false
	}
	return decodeAppRecord(raw)
}

// Installed implements AppCache.
func (a *App) Installed(appID [16]byte) bool {
	rec, ok := a.record(appID)
	return ok && rec.installed
}

// Cached implements AppCache.
func (a *App) Cached(appID [16]byte) bool {
	rec, ok := a.record(appID)
	return ok && rec.cached
}

// TouchLaunched implements AppCache, bumping the app's last-launched
// timestamp. Concurrent callers racing to bump the same app id
// collapse onto a single update via singleflight, so a burst of pins
// referencing one freshly-launched app only triggers one write.
func (a *App) TouchLaunched(appID [16]byte) {
	key := string(appID[:])
	_, _, _ = a.sf.Do(key, func() (interface{}, error) {
		rec, ok := a.record(appID)
		if !ok {
			return nil, nil
		}
		rec.lastLaunched = time.Now().Unix()
		if err := a.file.Set(appID[:], encodeAppRecord(rec)); err != nil {
			a.log.WithError(err).WithField("app", appID).Warn("failed to bump app LRU")
		}
		return nil, nil
	})
}

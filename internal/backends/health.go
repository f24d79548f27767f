package backends

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/settingsfile"
	"github.com/smartwatch/blobdb/internal/status"
)

// HealthCategory is the kind a health key's suffix decodes to.
type HealthCategory int

const (
	CategoryMovement HealthCategory = iota
	CategorySleep
	CategoryHeartRate
)

// dispatchWindowPast and dispatchWindowFuture bound the
// last_processed_timestamp a health entry must carry to be dispatched
// or persisted, per spec.md §4.4: [now-6d, now+1d].
const (
	dispatchWindowPast   = 6 * 24 * time.Hour
	dispatchWindowFuture = 1 * 24 * time.Hour
)

// ActivitySink receives movement-data entries, which are never
// persisted to disk.
type ActivitySink interface {
	SetActivity(key string, value []byte)
}

// MetricSink receives sleep and heart-rate entries alongside their
// disk persistence.
type MetricSink interface {
	Dispatch(category HealthCategory, key string, value []byte)
}

func parseHealthCategory(key []byte) (HealthCategory, bool) {
	s := string(key)
	idx := strings.LastIndexByte(s, '_')
	if idx < 0 {
		return 0, false
	}
	kind := s[idx+1:]
	switch {
	case strings.Contains(kind, "movement"):
		return CategoryMovement, true
	case strings.Contains(kind, "sleep"):
		return CategorySleep, true
	case strings.Contains(kind, "hr"), strings.Contains(kind, "heart"):
		return CategoryHeartRate, true
	default:
		return 0, false
	}
}

// lastProcessedTimestamp reads the little-endian int64 at the start of
// a health record's value.
func lastProcessedTimestamp(value []byte) (int64, bool) {
	if len(value) < 8 {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(value[0:8])), true
}

// Health backs the Health namespace. A key must be of the form
// "<weekday>_<kind>"; movement entries dispatch to an in-memory
// activity sink and are never persisted, sleep and heart-rate entries
// both persist and dispatch, and any entry outside the
// [now-6d, now+1d] processing window is silently dropped.
type Health struct {
	file     *settingsfile.SettingsFile
	activity ActivitySink
	metrics  MetricSink
	now      func() time.Time
	log      *logrus.Entry
}

func NewHealth(file *settingsfile.SettingsFile, activity ActivitySink, metrics MetricSink) *Health {
	return &Health{
		file:     file,
		activity: activity,
		metrics:  metrics,
		now:      time.Now,
		log:      logrus.WithField("component", "health"),
	}
}

func (h *Health) Init() error { return nil }

func (h *Health) Insert(key, value []byte, origin blobdb.Origin) error {
	category, ok := parseHealthCategory(key)
	if !ok {
		return status.Wrap(status.InvalidArg, "health: key %q is not of the form <weekday>_<kind>", key)
	}
	ts, ok := lastProcessedTimestamp(value)
	if !ok {
		return status.Wrap(status.InvalidArg, "health: value missing last_processed_timestamp")
	}
	now := h.now()
	if ts < now.Add(-dispatchWindowPast).Unix() || ts > now.Add(dispatchWindowFuture).Unix() {
		h.log.WithField("key", string(key)).Debug("health entry outside processing window, ignoring")
		return nil
	}

	if category == CategoryMovement {
		h.activity.SetActivity(string(key), value)
		return nil
	}

	if origin == blobdb.OriginPeer {
		if err := h.file.SetSynced(key, value); err != nil {
			return err
		}
	} else if err := h.file.Set(key, value); err != nil {
		return err
	}
	h.metrics.Dispatch(category, string(key), value)
	return nil
}

func (h *Health) Read(key []byte) ([]byte, error) { return h.file.Get(key) }

func (h *Health) GetLen(key []byte) (int, error) { return h.file.GetLen(key) }

func (h *Health) Delete(key []byte) error { return h.file.Delete(key) }

func (h *Health) Flush() error { return h.file.Rewrite(nil) }

func (h *Health) IsDirty() (bool, error) { return settingsDirty(h.file) }

func (h *Health) GetDirtyList() ([]blobdb.DirtyRecord, error) { return settingsDirtyList(h.file) }

func (h *Health) MarkSynced(key []byte) error { return h.file.MarkSynced(key) }

// Stats reports the backing file's diagnostic snapshot.
func (h *Health) Stats() settingsfile.Stats { return h.file.Stats() }

// Package blobdb implements the uniform dispatch façade described in
// spec.md §4.2: a static table mapping a DatabaseID to a Backend, plus
// change-event emission. The façade itself carries no storage state; it
// is a thin, always-available router in front of the per-namespace
// backends in package backends.
package blobdb

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/smartwatch/blobdb/internal/status"
)

// DatabaseID identifies a namespace, per spec.md §6.1.
type DatabaseID uint8

const (
	Test DatabaseID = iota
	Pins
	Apps
	Reminders
	Notifs
	Weather
	IosNotifPrefs
	Prefs
	Contacts
	WatchAppPrefs
	Health
	AppGlance

	NumDatabases
)

func (id DatabaseID) String() string {
	names := [...]string{
		"Test", "Pins", "Apps", "Reminders", "Notifs", "Weather",
		"IosNotifPrefs", "Prefs", "Contacts", "WatchAppPrefs", "Health", "AppGlance",
	}
	if int(id) < len(names) {
		return names[id]
	}
	return "Unknown"
}

// DirtyRecord is one entry of a dirty-sync list: a key pending
// transmission to the peer, with the wall-clock time it was last
// modified. It is an owned slice element, not a linked-list node,
// per spec.md §9's guidance to replace the firmware's raw lists.
type DirtyRecord struct {
	Key          []byte
	LastModified int64
}

// Origin distinguishes a locally-originated mutation (from the UI, a
// local app, or another on-watch subsystem) from a peer-originated one
// (applied because the phone sent a WRITE/WRITEBACK frame). Per
// spec.md §3 invariants 3-4, this decides the initial dirty/synced
// bits: peer-originated inserts land synced and not dirty so they
// aren't echoed back; locally-originated inserts land dirty so the
// sync engine picks them up.
type Origin int

const (
	OriginLocal Origin = iota
	OriginPeer
)

// Backend is the vtable every namespace implements: spec.md §4.2's
// {init, insert, get_len, read, delete, flush, is_dirty,
// get_dirty_list, mark_synced} contract. A backend that does not
// support a given operation returns status.InvalidOp.
type Backend interface {
	Init() error
	Insert(key, value []byte, origin Origin) error
	Read(key []byte) ([]byte, error)
	GetLen(key []byte) (int, error)
	Delete(key []byte) error
	Flush() error
	IsDirty() (bool, error)
	GetDirtyList() ([]DirtyRecord, error)
	MarkSynced(key []byte) error
}

// EventType is the kind of change-event emitted on successful mutation.
type EventType int

const (
	EventInsert EventType = iota
	EventDelete
	EventFlush
)

// Event is a single façade-level change notification. Key is nil for
// EventFlush.
type Event struct {
	Type EventType
	DB   DatabaseID
	Key  []byte
}

// entry binds one DatabaseID to its backend and enablement.
type entry struct {
	backend  Backend
	disabled bool
}

// Facade is the stateless dispatch table over every namespace. It is
// safe for concurrent use: each call simply forwards to the backend,
// which owns its own locking.
type Facade struct {
	table  [NumDatabases]entry
	events chan Event
	log    *logrus.Entry
}

// New builds a Facade with every database initially disabled; call
// Register for each namespace before InitAll.
func New() *Facade {
	f := &Facade{
		events: make(chan Event, 256),
		log:    logrus.WithField("component", "blobdb"),
	}
	for i := range f.table {
		f.table[i].disabled = true
	}
	return f
}

// Register binds a backend to a database id. Passing a nil backend
// marks the id disabled: every call against it fails with
// status.InvalidDBID, matching spec.md §4.2.
func (f *Facade) Register(id DatabaseID, backend Backend) {
	if int(id) >= len(f.table) {
		panic("blobdb: database id out of range")
	}
	f.table[id] = entry{backend: backend, disabled: backend == nil}
}

// Events returns the change-event stream. Emission is best-effort: a
// full channel drops the event rather than blocking the mutation that
// produced it.
func (f *Facade) Events() <-chan Event {
	return f.events
}

func (f *Facade) emit(ev Event) {
	select {
	case f.events <- ev:
	default:
		f.log.WithField("db", ev.DB).Warn("event bus full, dropping event")
	}
}

func (f *Facade) lookup(id DatabaseID) (Backend, error) {
	if int(id) >= len(f.table) || f.table[id].disabled {
		return nil, status.InvalidDBID
	}
	return f.table[id].backend, nil
}

// Backend returns the raw backend registered for id, for tooling that
// needs more than the Backend interface exposes (cmd/blobdbctl's stats
// command type-asserts for an optional Stats() method).
func (f *Facade) Backend(id DatabaseID) (Backend, error) {
	return f.lookup(id)
}

// InitAll calls Init on every non-disabled backend concurrently,
// grounded on the fan-out-then-join pattern from
// tonimelisma-onedrive-go's use of golang.org/x/sync/errgroup.
func (f *Facade) InitAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for i := range f.table {
		e := f.table[i]
		if e.disabled {
			continue
		}
		backend := e.backend
		g.Go(func() error {
			return backend.Init()
		})
	}
	return g.Wait()
}

// Insert routes to the backend's Insert and emits EventInsert on
// success. Most local callers want InsertLocal/InsertFromPeer below;
// Insert is kept for callers that already know their Origin.
func (f *Facade) Insert(db DatabaseID, key, value []byte, origin Origin) error {
	b, err := f.lookup(db)
	if err != nil {
		return err
	}
	if err := b.Insert(key, value, origin); err != nil {
		return err
	}
	f.emit(Event{Type: EventInsert, DB: db, Key: append([]byte(nil), key...)})
	return nil
}

// InsertLocal routes a locally-originated mutation (UI, local app,
// on-watch subsystem) through Insert.
func (f *Facade) InsertLocal(db DatabaseID, key, value []byte) error {
	return f.Insert(db, key, value, OriginLocal)
}

// InsertFromPeer routes a mutation the wire codec received from the
// paired phone through Insert; per spec.md §2 this lands synced and
// generates no echo.
func (f *Facade) InsertFromPeer(db DatabaseID, key, value []byte) error {
	return f.Insert(db, key, value, OriginPeer)
}

// Read routes to the backend's Read.
func (f *Facade) Read(db DatabaseID, key []byte) ([]byte, error) {
	b, err := f.lookup(db)
	if err != nil {
		return nil, err
	}
	return b.Read(key)
}

// GetLen routes to the backend's GetLen.
func (f *Facade) GetLen(db DatabaseID, key []byte) (int, error) {
	b, err := f.lookup(db)
	if err != nil {
		return 0, err
	}
	return b.GetLen(key)
}

// Delete routes to the backend's Delete and emits EventDelete on
// success.
func (f *Facade) Delete(db DatabaseID, key []byte) error {
	b, err := f.lookup(db)
	if err != nil {
		return err
	}
	if err := b.Delete(key); err != nil {
		return err
	}
	f.emit(Event{Type: EventDelete, DB: db, Key: append([]byte(nil), key...)})
	return nil
}

// Flush routes to the backend's Flush and emits EventFlush on success.
func (f *Facade) Flush(db DatabaseID) error {
	b, err := f.lookup(db)
	if err != nil {
		return err
	}
	if err := b.Flush(); err != nil {
		return err
	}
	f.emit(Event{Type: EventFlush, DB: db})
	return nil
}

// IsDirty routes to the backend's IsDirty. A backend that returns
// status.InvalidOp (no dirty tracking) is reported as "not dirty"
// rather than propagating the error, matching spec.md §4.2.
func (f *Facade) IsDirty(db DatabaseID) (bool, error) {
	b, err := f.lookup(db)
	if err != nil {
		return false, err
	}
	dirty, err := b.IsDirty()
	if err == status.InvalidOp {
		return false, nil
	}
	return dirty, err
}

// GetDirtyDBs walks every database, collecting ids reported dirty.
func (f *Facade) GetDirtyDBs() []DatabaseID {
	var out []DatabaseID
	for i := range f.table {
		id := DatabaseID(i)
		if f.table[i].disabled {
			continue
		}
		dirty, err := f.IsDirty(id)
		if err != nil {
			continue
		}
		if dirty {
			out = append(out, id)
		}
	}
	return out
}

// GetDirtyList returns db's pending-sync records.
func (f *Facade) GetDirtyList(db DatabaseID) ([]DirtyRecord, error) {
	b, err := f.lookup(db)
	if err != nil {
		return nil, err
	}
	return b.GetDirtyList()
}

// MarkSynced routes to the backend's MarkSynced.
func (f *Facade) MarkSynced(db DatabaseID, key []byte) error {
	b, err := f.lookup(db)
	if err != nil {
		return err
	}
	return b.MarkSynced(key)
}

package backends

import (
	"sync"

	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/status"
)

// Prefs backs the Prefs namespace: a pass-through to a small in-memory
// map standing in for the phone-independent preference store the
// original firmware keeps outside BlobDB (SPEC_FULL.md §4.4). delete
// and flush are unimplemented, per spec.md §4.4. A plain sync.Mutex
// guards the map directly; the golang.org/x/sync utilities used
// elsewhere in this module (errgroup in blobdb, singleflight in App)
// serve their specific purposes and neither is a drop-in replacement
// for a bare critical section here.
type Prefs struct {
	mu    sync.Mutex
	store map[string][]byte
}

func NewPrefs() *Prefs {
	return &Prefs{store: make(map[string][]byte)}
}

func (p *Prefs) Init() error { return nil }

func (p *Prefs) Insert(key, value []byte, _ blobdb.Origin) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store[string(key)] = append([]byte(nil), value...)
	return nil
}

func (p *Prefs) Read(key []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.store[string(key)]
	if !ok {
		return nil, status.NotFound
	}
	return append([]byte(nil), v...), nil
}

func (p *Prefs) GetLen(key []byte) (int, error) {
	v, err := p.Read(key)
	if err != nil {
		return 0, err
	}
	return len(v), nil
}

func (p *Prefs) Delete(key []byte) error { return status.InvalidOp }

func (p *Prefs) Flush() error { return status.InvalidOp }

func (p *Prefs) IsDirty() (bool, error) { return false, status.InvalidOp }

func (p *Prefs) GetDirtyList() ([]blobdb.DirtyRecord, error) { return nil, status.InvalidOp }

func (p *Prefs) MarkSynced(key []byte) error { return status.InvalidOp }

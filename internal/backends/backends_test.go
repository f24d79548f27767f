package backends

// fakeAppCache and fakeEventSink are shared test doubles for the
// pins/appglance app-fetch policy tests.
type fakeAppCache struct {
	installed map[[16]byte]bool
	cached    map[[16]byte]bool
	launched  map[[16]byte]int
}

func newFakeAppCache() *fakeAppCache {
	return &fakeAppCache{
		installed: map[[16]byte]bool{},
		cached:    map[[16]byte]bool{},
		launched:  map[[16]byte]int{},
	}
}

func (f *fakeAppCache) Installed(id [16]byte) bool { return f.installed[id] }
func (f *fakeAppCache) Cached(id [16]byte) bool    { return f.cached[id] }
func (f *fakeAppCache) TouchLaunched(id [16]byte)  { f.launched[id]++ }

type fakeEventSink struct {
	requested [][16]byte
}

func (f *fakeEventSink) AppFetchRequest(id [16]byte) { f.requested = append(f.requested, id) }

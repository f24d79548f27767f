package backends

import "github.com/smartwatch/blobdb/internal/settingsfile"

// Test backs the reserved Test namespace (database id 0): a fully
// featured plain SettingsFile passthrough used by integration tests
// and cmd/blobdbctl's loopback phone simulator as a harmless scratch
// namespace.
type Test struct {
	*passthroughBackend
}

func NewTest(file *settingsfile.SettingsFile) *Test {
	return &Test{passthroughBackend: newPassthroughBackend(file, true, "test")}
}

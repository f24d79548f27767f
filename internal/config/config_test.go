package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartwatch/blobdb/internal/blobdb"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "/var/lib/blobdb", cfg.DataDir)

	timeout, err := cfg.SyncTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)
}

func TestMaxFileSizeForFallsBackToDefault(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 4<<20, cfg.MaxFileSizeFor(blobdb.Health))
	assert.Equal(t, defaultMaxFileSize, cfg.MaxFileSizeFor(blobdb.Contacts))
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobdb.toml")
	contents := `
data_dir = "/tmp/blobdb-test"
sync_timeout = "10s"

[max_file_size]
Contacts = 65536
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/blobdb-test", cfg.DataDir)
	assert.Equal(t, 65536, cfg.MaxFileSizeFor(blobdb.Contacts))
	// Untouched defaults survive the overlay.
	assert.Equal(t, 4<<20, cfg.MaxFileSizeFor(blobdb.Health))

	timeout, err := cfg.SyncTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, timeout)
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsUnparseableTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncTimeout = "not-a-duration"
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsNonPositiveFileSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFileSize["Contacts"] = 0
	require.Error(t, Validate(cfg))
}

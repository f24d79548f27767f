// Package config implements TOML configuration loading for the BlobDB
// daemon: the data directory, per-namespace settings-file size caps,
// the sync engine's ack timeout, and the boot sequence's
// accepting-messages delay. Grounded on
// tonimelisma-onedrive-go/internal/config's Load: seed a Config with
// defaults, then let toml.Decode overlay whatever the file specifies.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/smartwatch/blobdb/internal/blobdb"
)

// defaultMaxFileSize is the settings-file cap applied to any namespace
// not listed explicitly in MaxFileSize.
const defaultMaxFileSize = 1 << 20 // 1 MiB

// Config is the daemon's top-level configuration.
type Config struct {
	DataDir            string         `toml:"data_dir"`
	MaxFileSize        map[string]int `toml:"max_file_size"`
	SyncTimeout        string         `toml:"sync_timeout"`
	AcceptingBootDelay string         `toml:"accepting_boot_delay"`
}

// DefaultConfig returns the configuration used when a key is absent
// from the loaded file. Health and AppGlance get a larger cap than the
// 1 MiB default since they accumulate many small records per day.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/blobdb",
		MaxFileSize: map[string]int{
			blobdb.Health.String():    4 << 20,
			blobdb.AppGlance.String(): 2 << 20,
			blobdb.Notifs.String():    2 << 20,
		},
		SyncTimeout:        "30s",
		AcceptingBootDelay: "2s",
	}
}

// Load reads and parses the TOML file at path over a default-seeded
// Config, then validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects a Config with an empty data directory, unparseable
// durations, or a non-positive file-size cap.
func Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if _, err := cfg.SyncTimeoutDuration(); err != nil {
		return fmt.Errorf("config: sync_timeout: %w", err)
	}
	if _, err := cfg.AcceptingBootDelayDuration(); err != nil {
		return fmt.Errorf("config: accepting_boot_delay: %w", err)
	}
	for name, size := range cfg.MaxFileSize {
		if size <= 0 {
			return fmt.Errorf("config: max_file_size[%s] must be positive, got %d", name, size)
		}
	}
	return nil
}

// SyncTimeoutDuration parses SyncTimeout.
func (c *Config) SyncTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.SyncTimeout)
}

// AcceptingBootDelayDuration parses AcceptingBootDelay.
func (c *Config) AcceptingBootDelayDuration() (time.Duration, error) {
	return time.ParseDuration(c.AcceptingBootDelay)
}

// MaxFileSizeFor returns the settings-file size cap for db, falling
// back to defaultMaxFileSize when the namespace has no explicit entry.
func (c *Config) MaxFileSizeFor(db blobdb.DatabaseID) int {
	if size, ok := c.MaxFileSize[db.String()]; ok {
		return size
	}
	return defaultMaxFileSize
}

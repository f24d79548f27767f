package backends

import "github.com/smartwatch/blobdb/internal/settingsfile"

// WeatherCurrentVersion is the version byte current Weather records
// must carry; anything else is stale.
const WeatherCurrentVersion = 1

// Weather backs the Weather namespace. Per spec.md §4.4 it is excluded
// from get_dirty_dbs "in its current form".
type Weather struct {
	*versionedBackend
}

func NewWeather(file *settingsfile.SettingsFile) *Weather {
	return &Weather{versionedBackend: newVersionedBackend(file, WeatherCurrentVersion, false, "weather")}
}

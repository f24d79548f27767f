package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smartwatch/blobdb/internal/backends"
	"github.com/smartwatch/blobdb/internal/blobdb"
	"github.com/smartwatch/blobdb/internal/config"
	"github.com/smartwatch/blobdb/internal/settingsfile"
	"github.com/smartwatch/blobdb/internal/timeline"
)

// remindersSource is the watch-internal parent uuid that marks a pin as
// originating from the on-watch reminders subsystem rather than a
// phone-installed app, per spec.md §4.4.
var remindersSource = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// defaultItemTTL is the timeline TTL applied to Pins and Reminders;
// spec.md §9's Open Question leaves the exact figure unspecified, so
// both namespaces share one conservative default here.
const defaultItemTTL = 30 * 24 * time.Hour

// loggingActivitySink and loggingMetricSink stand in for the on-watch
// activity UI and metrics-ingestion subsystems, which live outside
// BlobDB's scope; cmd/blobdbctl only needs to prove Health dispatches.
type loggingActivitySink struct{ log *logrus.Entry }

func (s loggingActivitySink) SetActivity(key string, value []byte) {
	s.log.WithFields(logrus.Fields{"key": key, "bytes": len(value)}).Debug("activity dispatched")
}

type loggingMetricSink struct{ log *logrus.Entry }

func (s loggingMetricSink) Dispatch(category backends.HealthCategory, key string, value []byte) {
	s.log.WithFields(logrus.Fields{"category": category, "key": key, "bytes": len(value)}).Debug("metric dispatched")
}

// daemon bundles the assembled façade with the collaborators
// cmd/blobdbctl's other commands need direct access to, and the list
// of backing files to close on shutdown.
type daemon struct {
	facade   *blobdb.Facade
	fetchBus *backends.AppFetchBus
	closers  []func() error
	log      *logrus.Entry
}

// buildDaemon opens every namespace's backing file under cfg.DataDir,
// wires the per-namespace backends (including the Pins/Reminders/Apps/
// AppGlance collaborators) and registers them on a fresh façade.
func buildDaemon(cfg *config.Config) (*daemon, error) {
	d := &daemon{
		facade:   blobdb.New(),
		fetchBus: backends.NewAppFetchBus(),
		log:      logrus.WithField("component", "daemon"),
	}

	openFile := func(db blobdb.DatabaseID) (*settingsfile.SettingsFile, error) {
		path := filepath.Join(cfg.DataDir, db.String()+".db")
		f, err := settingsfile.Open(path, cfg.MaxFileSizeFor(db))
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, f.Close)
		return f, nil
	}
	openTimeline := func(db blobdb.DatabaseID, ttl time.Duration) (*timeline.Storage, error) {
		path := filepath.Join(cfg.DataDir, db.String()+".db")
		s, err := timeline.Open(path, cfg.MaxFileSizeFor(db), ttl)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, s.Close)
		return s, nil
	}

	testFile, err := openFile(blobdb.Test)
	if err != nil {
		return nil, err
	}
	d.facade.Register(blobdb.Test, backends.NewTest(testFile))

	appFile, err := openFile(blobdb.Apps)
	if err != nil {
		return nil, err
	}
	app := backends.NewApp(appFile)
	d.facade.Register(blobdb.Apps, app)

	remindersStorage, err := openTimeline(blobdb.Reminders, defaultItemTTL)
	if err != nil {
		return nil, err
	}
	d.facade.Register(blobdb.Reminders, backends.NewReminders(remindersStorage))

	pinsStorage, err := openTimeline(blobdb.Pins, defaultItemTTL)
	if err != nil {
		return nil, err
	}
	d.facade.Register(blobdb.Pins, backends.NewPins(pinsStorage, remindersStorage, app, d.fetchBus, remindersSource))

	notifsFile, err := openFile(blobdb.Notifs)
	if err != nil {
		return nil, err
	}
	d.facade.Register(blobdb.Notifs, backends.NewNotifs(notifsFile))

	weatherFile, err := openFile(blobdb.Weather)
	if err != nil {
		return nil, err
	}
	d.facade.Register(blobdb.Weather, backends.NewWeather(weatherFile))

	iosFile, err := openFile(blobdb.IosNotifPrefs)
	if err != nil {
		return nil, err
	}
	d.facade.Register(blobdb.IosNotifPrefs, backends.NewIosNotifPrefs(iosFile))

	d.facade.Register(blobdb.Prefs, backends.NewPrefs())

	contactsFile, err := openFile(blobdb.Contacts)
	if err != nil {
		return nil, err
	}
	d.facade.Register(blobdb.Contacts, backends.NewContacts(contactsFile))

	watchAppPrefsFile, err := openFile(blobdb.WatchAppPrefs)
	if err != nil {
		return nil, err
	}
	d.facade.Register(blobdb.WatchAppPrefs, backends.NewWatchAppPrefs(watchAppPrefsFile))

	healthFile, err := openFile(blobdb.Health)
	if err != nil {
		return nil, err
	}
	health := backends.NewHealth(healthFile,
		loggingActivitySink{log: logrus.WithField("component", "activity")},
		loggingMetricSink{log: logrus.WithField("component", "metrics")},
	)
	d.facade.Register(blobdb.Health, health)

	appGlanceFile, err := openFile(blobdb.AppGlance)
	if err != nil {
		return nil, err
	}
	d.facade.Register(blobdb.AppGlance, backends.NewAppGlance(appGlanceFile, app, d.fetchBus))

	if err := d.facade.InitAll(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

// Close shuts down every backing file in reverse open order.
func (d *daemon) Close() error {
	var firstErr error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.log.WithError(err).Warn("error closing backing file")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Package app wires the configured detector, annotator, sinks and session history
// into a controller shared by the command line, desktop and server front-ends.
package app

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"go.uber.org/multierr"

	"github.com/KhawLiang/Staff-Detection/internal/annotate"
	"github.com/KhawLiang/Staff-Detection/internal/config"
	"github.com/KhawLiang/Staff-Detection/internal/detector"
	"github.com/KhawLiang/Staff-Detection/internal/pipeline"
	"github.com/KhawLiang/Staff-Detection/internal/sink"
	"github.com/KhawLiang/Staff-Detection/internal/store"
)

// Config holds configuration options for the application.
type Config struct {
	Settings *config.Config

	// Presenter receives every output frame. Nil disables live display.
	Presenter sink.Presenter

	// Detector replaces the configured backend when set.
	Detector detector.Detector

	// Store replaces the database at Settings.StorePath() when set. It is not
	// closed by the App.
	Store *store.Store

	// NoHistory disables session history entirely.
	NoHistory bool

	OpenSource   pipeline.OpenSourceFunc
	OpenRecorder sink.OpenRecorderFunc
}

// App owns the long-lived components of one front-end.
type App struct {
	config     Config
	store      *store.Store
	ownsStore  bool
	detector   detector.Detector
	controller *pipeline.Controller
	scheduler  *pipeline.Scheduler

	closeOnce sync.Once
	closeErr  error
}

// New creates the application. A detector that cannot be created is logged and
// left unset, so loading a video reports pipeline.ErrDetectorUnavailable.
func New(cfg Config) (*App, error) {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	settings := cfg.Settings

	a := &App{config: cfg}

	if !cfg.NoHistory {
		if err := a.openStore(); err != nil {
			return nil, err
		}
	}

	a.detector = cfg.Detector
	if a.detector == nil {
		d, err := detector.New(settings.Detector)
		if err != nil {
			log.Printf("Detector not available (%v)", err)
		} else {
			a.detector = d
			log.Printf("Using %s detection backend", backendName(settings.Detector.Backend))
		}
	}

	style := annotate.DefaultStyle()
	style.ShowCoordinates = settings.Annotate.ShowCoordinates

	pc := pipeline.Config{
		Detector:      a.detector,
		Annotator:     annotate.New(style),
		Presenter:     cfg.Presenter,
		Postprocessor: detector.NewScoreFilter(settings.Detector.Confidence),
		OutputDir:     settings.OutputDir,
		Codec:         settings.Codec,
		Extension:     settings.Extension,
		OpenSource:    cfg.OpenSource,
		OpenRecorder:  cfg.OpenRecorder,
	}
	if a.store != nil {
		pc.Observer = a.store.Sessions()
	}

	a.controller = pipeline.New(pc)
	a.scheduler = pipeline.NewScheduler(a.controller, nil)
	return a, nil
}

func (a *App) openStore() error {
	if a.config.Store != nil {
		a.store = a.config.Store
		return nil
	}

	path, err := a.config.Settings.StorePath()
	if err != nil {
		return err
	}
	st, err := store.New(path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	a.store = st
	a.ownsStore = true
	return nil
}

func backendName(b string) string {
	if b == "" {
		return detector.BackendDNN
	}
	return b
}

// Controller returns the session controller.
func (a *App) Controller() *pipeline.Controller {
	return a.controller
}

// Scheduler returns the timer-driven scheduler bound to the controller.
func (a *App) Scheduler() *pipeline.Scheduler {
	return a.scheduler
}

// Store returns the session history, or nil when history is disabled.
func (a *App) Store() *store.Store {
	return a.store
}

// Settings returns the configuration the app was built from.
func (a *App) Settings() *config.Config {
	return a.config.Settings
}

// Detector returns the detection backend, or nil when none could be created.
func (a *App) Detector() detector.Detector {
	return a.detector
}

// LastVideo returns the most recently loaded video, falling back to the
// configured one.
func (a *App) LastVideo() string {
	if a.store != nil {
		if v, err := a.store.Settings().Get(store.SettingLastVideo); err == nil && v != "" {
			return v
		}
	}
	return a.config.Settings.Video
}

// RememberVideo records path as the last loaded video.
func (a *App) RememberVideo(path string) {
	if a.store == nil {
		return
	}
	if err := a.store.Settings().Set(store.SettingLastVideo, path); err != nil {
		log.Printf("Failed to remember last video: %v", err)
	}
}

// Close stops any running session and releases the detector, presenter and store.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var err error
		if stopErr := a.scheduler.Stop(); !errors.Is(stopErr, pipeline.ErrInvalidState) {
			err = multierr.Append(err, stopErr)
		}
		err = multierr.Append(err, a.controller.Close())
		if a.config.Presenter != nil {
			err = multierr.Append(err, a.config.Presenter.Close())
		}
		if a.detector != nil {
			err = multierr.Append(err, a.detector.Close())
		}
		if a.ownsStore {
			err = multierr.Append(err, a.store.Close())
		}
		a.closeErr = err
	})
	return a.closeErr
}

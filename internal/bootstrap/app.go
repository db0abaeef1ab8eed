package bootstrap

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/example/meetingpipe/internal/blob"
	"github.com/example/meetingpipe/internal/calendar"
	"github.com/example/meetingpipe/internal/config"
	"github.com/example/meetingpipe/internal/pipeline"
	"github.com/example/meetingpipe/internal/provider"
	"github.com/example/meetingpipe/internal/state"
)

// App holds the wired components shared by the server binary.
type App struct {
	Store  state.Store
	Blobs  *blob.Store
	Gate   *calendar.Gate
	Engine *pipeline.Engine
	Config config.Config
}

// New wires the store, providers, blob storage, calendar gate and the
// pipeline engine from the given configuration. Providers without a
// configured URL fall back to their noop implementations so the server
// stays runnable in development.
func New(cfg config.Config, log *logrus.Entry) (*App, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.New(cfg, log)
	if err != nil {
		return nil, err
	}

	prov := newProviders(cfg, log)
	gate := calendar.NewGate(store, prov.Calendar, log)
	engine := pipeline.New(store, blobs, prov, gate, pipeline.Options{
		LocalWorkers:   cfg.LocalWorkers,
		NetworkWorkers: cfg.NetworkWorkers,
		StageTimeout:   cfg.StageTimeout,
		MaxRetries:     cfg.StageMaxRetries,
	}, log)

	return &App{
		Store:  store,
		Blobs:  blobs,
		Gate:   gate,
		Engine: engine,
		Config: cfg,
	}, nil
}

func newStore(cfg config.Config) (state.Store, error) {
	switch cfg.Store {
	case "memory":
		return state.NewMemoryStore(), nil
	case "sqlite":
		return state.NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("MEETPIPE_POSTGRES_DSN is required when MEETPIPE_STORE=postgres")
		}
		return state.NewPostgresStore(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported MEETPIPE_STORE value %q", cfg.Store)
	}
}

func newProviders(cfg config.Config, log *logrus.Entry) pipeline.Providers {
	prov := pipeline.Providers{
		VAD:         provider.NoopVAD{},
		Enhancer:    provider.NoopEnhancer{},
		Transcriber: provider.NoopTranscriber{},
		Extractor:   provider.NoopExtractor{},
		Calendar:    provider.NoopCalendar{},
	}
	if cfg.VADURL != "" {
		prov.VAD = &provider.HTTPVAD{URL: cfg.VADURL, Log: log}
	}
	if cfg.EnhancerURL != "" {
		prov.Enhancer = &provider.HTTPEnhancer{URL: cfg.EnhancerURL, Log: log}
	}
	if cfg.TranscriberURL != "" {
		prov.Transcriber = &provider.HTTPTranscriber{URL: cfg.TranscriberURL, Log: log}
	}
	if cfg.ExtractorURL != "" {
		prov.Extractor = &provider.HTTPExtractor{
			URL:    cfg.ExtractorURL,
			Model:  cfg.ExtractorModel,
			APIKey: cfg.ExtractorKey,
			Log:    log,
		}
	}
	if cfg.CalendarURL != "" {
		prov.Calendar = &provider.HTTPCalendar{URL: cfg.CalendarURL, Token: cfg.CalendarToken, Log: log}
	}
	return prov
}

package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vertextoedge/offline-stream/internal/adapter/filesystem"
	"github.com/vertextoedge/offline-stream/internal/adapter/httpfetch"
	"github.com/vertextoedge/offline-stream/internal/adapter/sqlite"
	"github.com/vertextoedge/offline-stream/internal/adapter/transfer"
	"github.com/vertextoedge/offline-stream/internal/config"
	"github.com/vertextoedge/offline-stream/internal/domain/event"
	"github.com/vertextoedge/offline-stream/internal/domain/service"
	"github.com/vertextoedge/offline-stream/internal/logger"
	"github.com/vertextoedge/offline-stream/internal/service/engine"
	"github.com/vertextoedge/offline-stream/internal/service/estimator"
	"github.com/vertextoedge/offline-stream/internal/service/inspector"
	"github.com/vertextoedge/offline-stream/internal/service/maintenance"
	"github.com/vertextoedge/offline-stream/internal/service/registry"
	"github.com/vertextoedge/offline-stream/internal/service/selector"
)

// app holds every wired component for one command invocation
type app struct {
	logger     *zap.Logger
	store      *sqlite.Store
	dispatcher *event.InMemoryDispatcher
	sink       *event.BufferedSink
	metrics    *event.MetricsHandler

	engine      *engine.Engine
	registry    *registry.Registry
	maintenance *maintenance.Service
}

func newApp(cfg *config.Config) (*app, error) {
	zapLogger := logger.GetZapLogger()

	fsManager, err := filesystem.NewManagerWithBufferSize(cfg.Storage.RootDir, cfg.Storage.GetBufferSize())
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem manager: %w", err)
	}

	dbPath := cfg.GetDatabasePath()
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// Events are buffered until every handler is subscribed
	dispatcher := event.NewInMemoryDispatcher(logger.Component("events"))
	sink := event.NewBufferedSink(dispatcher, 0)
	metrics := event.NewMetricsHandler()

	fetchCfg := httpfetch.DefaultConfig()
	if cfg.HTTP.UserAgent != "" {
		fetchCfg.UserAgent = cfg.HTTP.UserAgent
	}
	fetchCfg.SkipTLSVerify = cfg.HTTP.SkipTLSVerify
	fetcher := httpfetch.NewClient(fetchCfg, logger.Component("http"))

	est := estimator.New(&estimator.Config{
		SampleConcurrency: cfg.Estimator.SampleConcurrency,
		ProbeTimeout:      cfg.Estimator.GetProbeTimeout(),
		PlaylistTimeout:   cfg.Download.GetManifestTimeout(),
		OverheadFactor:    cfg.Estimator.OverheadFactor,
	}, fetcher, logger.Component("estimator"))

	inspectorCfg := inspector.DefaultConfig()
	inspectorCfg.MinBitrates = cfg.Download.MinBitrates()
	inspectorCfg.ManifestTimeout = cfg.Download.GetManifestTimeout()
	inspectorCfg.CatalogueTTL = cfg.Download.GetCatalogueTTL()
	insp := inspector.New(inspectorCfg, fetcher, est, logger.Component("inspector"))

	sel := selector.New(&selector.Config{
		BitrateTolerance: cfg.Download.BitrateTolerance,
	}, insp, est, logger.Component("selector"))

	reg := registry.New(&registry.Config{
		LookupTimeout: cfg.Registry.GetLookupTimeout(),
	}, store, fsManager, sink, logger.Component("registry"))

	transfers := transfer.NewManager(transfer.Config{
		MaxConcurrent:      cfg.Download.ConcurrentTransfers,
		SegmentConcurrency: cfg.Download.SegmentConcurrency,
	}, fetcher, fsManager, logger.Component("transfer"))

	space := engine.NewSpaceManager(fsManager, service.NewStoragePolicy(
		cfg.Storage.MaxSizeGB,
		cfg.Storage.MaxDiskUsagePercent,
	))
	probe := httpfetch.NewNetworkProbe(cfg.Download.NetworkProbeURL, 0)

	eng := engine.New(
		&engine.Config{
			ProgressInterval: cfg.Download.GetProgressInterval(),
			PersistInterval:  cfg.Download.GetPersistInterval(),
		},
		store,
		store,
		transfers,
		insp,
		sel,
		reg,
		space,
		probe,
		fsManager,
		sink,
		logger.Component("engine"),
	)

	maint := maintenance.New(&maintenance.Config{
		RegistryCheckInterval: cfg.Maintenance.GetRegistryCheckInterval(),
		CleanupInterval:       cfg.Maintenance.GetCleanupInterval(),
		FailedRecordMaxAge:    cfg.Maintenance.GetFailedRecordMaxAge(),
		PartialMaxAge:         cfg.Maintenance.GetPartialMaxAge(),
		TriggerInterval:       cfg.Maintenance.GetTriggerInterval(),
	}, store, store, reg, eng, fsManager, logger.Component("maintenance"))

	dispatcher.Subscribe(event.NewLoggingHandler(logger.Component("events")))
	dispatcher.Subscribe(metrics)
	dispatcher.Subscribe(maint.Handler())

	return &app{
		logger:      zapLogger,
		store:       store,
		dispatcher:  dispatcher,
		sink:        sink,
		metrics:     metrics,
		engine:      eng,
		registry:    reg,
		maintenance: maint,
	}, nil
}

// ready starts delivering events, including any emitted during wiring
func (a *app) ready() {
	a.sink.MarkReady()
	if dropped := a.sink.Dropped(); dropped > 0 {
		a.logger.Warn("events dropped before handlers were ready", zap.Int("count", dropped))
	}
}

// close suspends live transfers and releases the database
func (a *app) close() {
	// Events raised while shutting down stay buffered
	a.sink.MarkNotReady()
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("failed to close engine", zap.Error(err))
	}
	a.maintenance.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
}

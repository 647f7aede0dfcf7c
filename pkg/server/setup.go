package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/dashboard"
	"github.com/nicktill/battmon/pkg/export"
	"github.com/nicktill/battmon/pkg/ingest"
	"github.com/nicktill/battmon/pkg/metrics"
	"github.com/nicktill/battmon/pkg/prefs"
	"github.com/nicktill/battmon/pkg/remote"
	"github.com/nicktill/battmon/pkg/server/monitor"
	"github.com/nicktill/battmon/pkg/storage"
	"github.com/nicktill/battmon/pkg/storage/badger"
)

const prefsDialTimeout = 5 * time.Second

// Handlers groups the HTTP handlers mounted by SetupRoutes.
type Handlers struct {
	Ingest    *ingest.Handler
	Export    *export.Handler
	Dashboard *dashboard.Handler
	Hub       *ingest.RecordsHub
	Metrics   *metrics.Metrics
}

// Monitors groups the health and usage monitors mounted by SetupRoutes.
type Monitors struct {
	Storage   *monitor.StorageMonitor
	Retention *monitor.RetentionMonitor
}

// InitializeStorage opens the badger record store under cfg.DataDir.
func InitializeStorage(cfg config.Config, logger *zap.Logger) (*badger.Storage, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("badger storage initialized",
		zap.String("path", cfg.DataDir),
		zap.Int64("max_memory_mb", cfg.MaxMemoryMB))
	return store, nil
}

// InitializeSource picks where the dashboard reads records from. Local mode
// reads the store this server ingests into.
func InitializeSource(cfg config.Config, store storage.Storage, m *metrics.Metrics, logger *zap.Logger) dashboard.Source {
	if cfg.Source == config.SourceRemote {
		logger.Info("dashboard reads from remote record API", zap.String("base_url", cfg.Remote.BaseURL))
		return remote.New(cfg.Remote, m, logger)
	}
	return store
}

// InitializePrefs connects to redis when configured. An unreachable redis
// falls back to in-memory preferences. The returned close func is never nil.
func InitializePrefs(ctx context.Context, cfg config.Config, logger *zap.Logger) (prefs.Store, func() error) {
	noop := func() error { return nil }
	if cfg.RedisAddr == "" {
		logger.Info("preferences kept in memory")
		return prefs.NewMemoryStore(), noop
	}

	ctx, cancel := context.WithTimeout(ctx, prefsDialTimeout)
	defer cancel()

	store, err := prefs.Dial(ctx, cfg.RedisAddr, config.PreferencesKeyPrefix)
	if err != nil {
		logger.Warn("redis unavailable, preferences kept in memory",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err))
		return prefs.NewMemoryStore(), noop
	}
	logger.Info("preferences stored in redis", zap.String("addr", cfg.RedisAddr))
	return store, store.Close
}

// InitializeIngester wires the ingester to the storage limit, the websocket
// hub and, when acker is non-nil, gateway ACKs.
func InitializeIngester(
	store storage.Storage,
	storageMonitor *monitor.StorageMonitor,
	hub *ingest.RecordsHub,
	acker ingest.Acker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ingest.Ingester {
	opts := []ingest.Option{
		ingest.WithLimitChecker(storageMonitor),
		ingest.WithBroadcaster(hub),
		ingest.WithMetrics(m),
	}
	if acker != nil {
		opts = append(opts, ingest.WithAcker(acker))
	}
	return ingest.NewIngester(store, logger, opts...)
}

// InitializeHandlers creates all request handlers.
func InitializeHandlers(
	cfg config.Config,
	store storage.Storage,
	source dashboard.Source,
	prefsStore prefs.Store,
	ing *ingest.Ingester,
	hub *ingest.RecordsHub,
	m *metrics.Metrics,
	loc *time.Location,
	logger *zap.Logger,
) Handlers {
	service := dashboard.NewService(source, dashboard.Options{
		Prefs: prefsStore,
		Phrases: dashboard.PhraseConfig{
			Range: cfg.RangeDeletePhrase,
			All:   cfg.AllDeletePhrase,
		},
		Location: loc,
		Metrics:  m,
		Logger:   logger.Named("dashboard"),
	})

	return Handlers{
		Ingest:    ingest.NewHandler(ing, store, logger.Named("ingest")),
		Export:    export.NewHandler(store, export.NewImporter(store, m), loc, logger.Named("export")),
		Dashboard: dashboard.NewHandler(service, logger.Named("dashboard")),
		Hub:       hub,
		Metrics:   m,
	}
}

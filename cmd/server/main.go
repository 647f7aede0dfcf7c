package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/ingest"
	"github.com/nicktill/battmon/pkg/logging"
	"github.com/nicktill/battmon/pkg/metrics"
	"github.com/nicktill/battmon/pkg/server"
	"github.com/nicktill/battmon/pkg/server/monitor"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 90 * time.Second // exports and deletions can be slow
	shutdownTimeout    = 30 * time.Second
	taskStopTimeout    = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "battmon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "battmon")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	m := metrics.New()

	store, err := server.InitializeStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mons := server.Monitors{
		Storage:   monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageBytes()),
		Retention: &monitor.RetentionMonitor{},
	}
	if cfg.Retention() == 0 {
		mons.Retention = nil
	}
	logger.Info("storage limit", zap.Float64("max_storage_gb", cfg.MaxStorageGB))

	prefsStore, closePrefs := server.InitializePrefs(ctx, cfg, logger)
	defer closePrefs()

	source := server.InitializeSource(cfg, store, m, logger)
	hub := ingest.NewRecordsHub(logger.Named("ws"))

	var mqttClient *ingest.MQTTClient
	var acker ingest.Acker
	if cfg.MQTT.Broker != "" {
		mqttClient, err = ingest.NewMQTTClient(cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			return err
		}
		defer mqttClient.Close()
		acker = mqttClient
		logger.Info("connected to MQTT broker", zap.String("broker", cfg.MQTT.Broker))
	}

	ing := server.InitializeIngester(store, mons.Storage, hub, acker, m, logger.Named("ingest"))
	if mqttClient != nil {
		if err := mqttClient.Subscribe(ctx, ing); err != nil {
			return err
		}
	}

	h := server.InitializeHandlers(cfg, store, source, prefsStore, ing, hub, m, loc, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.BroadcastStats(ctx, store, hub, logger)
	}()

	if mons.Retention != nil {
		wg.Add(1)
		go server.RunRetention(ctx, store, cfg.Retention(), mons.Retention, m, logger.Named("retention"), &wg)
	}

	wg.Add(1)
	go server.RunBadgerGC(ctx, store, logger, &wg)

	errorLog := zap.NewStdLog(logger)
	handler := handlers.RecoveryHandler(
		handlers.RecoveryLogger(errorLog),
		handlers.PrintRecoveryStack(true),
	)(server.NewRouter(cfg, h, mons, store))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.LoggingHandler(os.Stdout, handler),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		ErrorLog:     errorLog,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("source", cfg.Source),
			zap.String("time_zone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serveErr:
		logger.Error("server failed", zap.Error(err))
		cancel()
		return err
	}

	// cancel before wg.Wait or the background loops never return
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("background tasks stopped")
	case <-time.After(taskStopTimeout):
		logger.Warn("some background tasks did not stop in time")
	}

	logger.Info("server exited")
	return nil
}

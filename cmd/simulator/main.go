// Command simulator feeds a battmon server with synthetic gateway uplinks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/gateway"
	"github.com/nicktill/battmon/pkg/logging"
	"github.com/nicktill/battmon/pkg/telemetry"
)

type options struct {
	serverURL string
	broker    string
	devices   int
	gateways  int
	samples   int
	seed      int64
	interval  time.Duration
	backfill  time.Duration
	logLevel  string
}

func parseOptions() options {
	var o options
	flag.StringVar(&o.serverURL, "url", "http://localhost:8080", "battmon server base URL")
	flag.StringVar(&o.broker, "mqtt", "", "publish to this MQTT broker instead of HTTP (tcp://host:1883)")
	flag.IntVar(&o.devices, "devices", 3, "number of simulated devices")
	flag.IntVar(&o.gateways, "gateways", 2, "number of gateways hearing every device")
	flag.IntVar(&o.samples, "samples", 60, "voltage samples per record, a multiple of 20")
	flag.Int64Var(&o.seed, "seed", time.Now().UnixNano(), "random seed")
	flag.DurationVar(&o.interval, "interval", time.Duration(telemetry.BucketSeconds)*time.Second, "time between live records")
	flag.DurationVar(&o.backfill, "backfill", 0, "send this much history before going live")
	flag.StringVar(&o.logLevel, "log-level", "info", "debug, info, warn or error")
	flag.Parse()
	return o
}

func main() {
	o := parseOptions()

	logger, err := logging.New(o.logLevel, "console", "battmon-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(o, logger); err != nil {
		logger.Fatal("simulator failed", zap.Error(err))
	}
}

func run(o options, logger *zap.Logger) error {
	var transport gateway.Transport
	if o.broker != "" {
		mqttTransport, disconnect, err := gateway.DialMQTT(o.broker, fmt.Sprintf("battmon-sim-%d", os.Getpid()))
		if err != nil {
			return err
		}
		defer disconnect()
		transport = mqttTransport
		logger.Info("publishing to MQTT", zap.String("broker", o.broker))
	} else {
		transport = gateway.NewHTTPTransport(o.serverURL)
		logger.Info("posting to HTTP", zap.String("url", o.serverURL))
	}

	sim := gateway.NewSimulator(gateway.SimulatorConfig{
		Devices:          o.devices,
		Gateways:         o.gateways,
		SamplesPerRecord: o.samples,
		Seed:             o.seed,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	batcher := gateway.NewBatcher(transport, gateway.BatchConfig{FlushEvery: time.Second}, logger)

	if o.backfill > 0 {
		if err := backfill(ctx, sim, batcher, o.backfill, logger); err != nil {
			return err
		}
	}

	batcher.Start(ctx)
	logger.Info("simulator started",
		zap.Strings("devices", sim.Devices()),
		zap.Int("gateways", o.gateways),
		zap.Duration("interval", o.interval))

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := batcher.Stop()
			sent, failed := batcher.Stats()
			logger.Info("simulator stopped", zap.Int64("sent", sent), zap.Int64("failed", failed))
			return err
		case now := <-ticker.C:
			for _, u := range sim.Next(now) {
				batcher.Add(u)
			}
		}
	}
}

// backfill sends one bucket at a time from now-span up to now, synchronously.
func backfill(ctx context.Context, sim *gateway.Simulator, batcher *gateway.Batcher, span time.Duration, logger *zap.Logger) error {
	step := time.Duration(telemetry.BucketSeconds) * time.Second
	now := time.Now()
	buckets := 0
	for at := now.Add(-span); at.Before(now); at = at.Add(step) {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, u := range sim.Next(at) {
			batcher.Add(u)
		}
		if err := batcher.Flush(ctx); err != nil {
			return fmt.Errorf("backfill at %s: %w", at.Format(time.RFC3339), err)
		}
		buckets++
	}
	logger.Info("backfill complete", zap.Int("buckets", buckets), zap.Duration("span", span))
	return nil
}

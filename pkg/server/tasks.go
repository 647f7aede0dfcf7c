package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/ingest"
	"github.com/nicktill/battmon/pkg/metrics"
	"github.com/nicktill/battmon/pkg/server/monitor"
	"github.com/nicktill/battmon/pkg/storage"
	"github.com/nicktill/battmon/pkg/telemetry"
)

// EventStorageStats is the websocket event type sent by BroadcastStats.
const EventStorageStats = "storage_stats"

// Retry schedule for a failed retention sweep: 30s, 60s, 120s.
var (
	retentionRetries   = 3
	retentionBaseDelay = 30 * time.Second
)

// GarbageCollector is a store that can reclaim disk space on demand.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// SweepRetention removes every record whose bucket lies entirely before
// now minus retention. It returns the number of records removed.
func SweepRetention(ctx context.Context, store storage.Storage, retention time.Duration, now time.Time) (int, error) {
	cutoff := telemetry.ToBucketIndex(now.Add(-retention))
	return store.DeleteBefore(ctx, cutoff)
}

// RunRetention runs the retention sweep on startup and then every
// config.RetentionInterval until ctx is cancelled. A zero retention disables it.
func RunRetention(
	ctx context.Context,
	store storage.Storage,
	retention time.Duration,
	mon *monitor.RetentionMonitor,
	m *metrics.Metrics,
	logger *zap.Logger,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	if retention <= 0 {
		logger.Info("retention disabled")
		return
	}

	ticker := time.NewTicker(config.RetentionInterval)
	defer ticker.Stop()

	runWithRetry := func() {
		for attempt := 0; attempt <= retentionRetries; attempt++ {
			if attempt > 0 {
				delay := retentionBaseDelay * time.Duration(1<<(attempt-1))
				logger.Info("retrying retention sweep",
					zap.Duration("delay", delay),
					zap.Int("attempt", attempt+1))
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}

			start := time.Now()
			sweepCtx, cancel := context.WithTimeout(ctx, config.DeleteTimeout)
			deleted, err := SweepRetention(sweepCtx, store, retention, start)
			cancel()

			if err == nil {
				mon.RecordSuccess(deleted)
				m.AddRetentionDeleted(deleted)
				logger.Info("retention sweep completed",
					zap.Int("deleted", deleted),
					zap.Duration("took", time.Since(start).Round(time.Millisecond)))
				return
			}

			mon.RecordFailure(err)
			logger.Error("retention sweep failed", zap.Int("attempt", attempt+1), zap.Error(err))

			if status := mon.Status(config.RetentionInterval); status.ConsecutiveErrors > 3 {
				logger.Error("retention keeps failing", zap.Int("consecutive_errors", status.ConsecutiveErrors))
			}
		}
		logger.Warn("retention sweep gave up, will retry on next schedule")
	}

	logger.Info("retention scheduler started",
		zap.Duration("retention", retention),
		zap.Duration("interval", config.RetentionInterval))
	runWithRetry()

	for {
		select {
		case <-ticker.C:
			runWithRetry()
		case <-ctx.Done():
			logger.Info("stopping retention scheduler")
			return
		}
	}
}

// StatsEvent is broadcast to websocket clients with the store totals.
type StatsEvent struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Stats     *storage.Stats `json:"stats"`
}

// BroadcastStats periodically sends store statistics to websocket clients.
// Uses exponential backoff on errors to prevent log spam during outages.
func BroadcastStats(ctx context.Context, store storage.Storage, hub ingest.Broadcaster, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !hub.HasClients() {
				continue
			}

			stats, err := store.Stats(ctx)
			if err != nil {
				consecutiveErrors++
				now := time.Now()

				// 1s, 2s, 4s ... capped at maxBackoff
				backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					logger.Warn("stats broadcast failed",
						zap.Int("errors", consecutiveErrors),
						zap.Duration("backoff", backoff),
						zap.Error(err))
					lastErrorTime = now
				}
				continue
			}

			if consecutiveErrors > 0 {
				logger.Info("stats broadcast recovered", zap.Int("errors", consecutiveErrors))
				consecutiveErrors = 0
			}

			if err := hub.Broadcast(StatsEvent{
				Type:      EventStorageStats,
				Timestamp: time.Now().Unix(),
				Stats:     stats,
			}); err != nil {
				logger.Warn("failed to broadcast stats", zap.Error(err))
			}
		}
	}
}

// RunBadgerGC runs value log garbage collection every config.BadgerGCInterval.
// Deleted records stay in badger's value log until GC rewrites it.
func RunBadgerGC(ctx context.Context, gc GarbageCollector, logger *zap.Logger, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	logger.Info("badger GC scheduler started", zap.Duration("interval", config.BadgerGCInterval))

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// reclaim a value log file once half of it is garbage
			if err := gc.RunGC(0.5); err != nil {
				logger.Warn("badger GC failed", zap.Error(err))
				continue
			}
			logger.Debug("badger GC completed", zap.Duration("took", time.Since(start).Round(time.Millisecond)))
		case <-ctx.Done():
			logger.Info("stopping badger GC scheduler")
			return
		}
	}
}

package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/ingest"
)

const sendTimeout = 10 * time.Second

// BatchConfig holds configuration for the batcher
type BatchConfig struct {
	// MaxBatchSize flushes early once this many uplinks are queued.
	// Capped at config.MaxRecordsPerRequest.
	MaxBatchSize int
	FlushEvery   time.Duration
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.MaxBatchSize <= 0 || c.MaxBatchSize > config.MaxRecordsPerRequest {
		c.MaxBatchSize = config.MaxRecordsPerRequest
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 5 * time.Second
	}
	return c
}

// Batcher batches uplinks and sends them periodically
type Batcher struct {
	config    BatchConfig
	transport Transport
	logger    *zap.Logger

	queue []ingest.Uplink
	mu    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	sends  sync.WaitGroup

	// flushing keeps at most one background flush in flight
	flushing atomic.Bool
	sent     atomic.Int64
	failed   atomic.Int64
}

// NewBatcher creates a new batcher
func NewBatcher(transport Transport, cfg BatchConfig, logger *zap.Logger) *Batcher {
	cfg = cfg.withDefaults()
	return &Batcher{
		config:    cfg,
		transport: transport,
		logger:    logger,
		queue:     make([]ingest.Uplink, 0, cfg.MaxBatchSize),
		done:      make(chan struct{}),
	}
}

// Start starts the flush loop
func (b *Batcher) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	go b.flushLoop()
}

// Add queues an uplink, flushing in the background once the batch is full
func (b *Batcher) Add(u ingest.Uplink) {
	b.mu.Lock()
	b.queue = append(b.queue, u)
	shouldFlush := len(b.queue) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		b.sends.Add(1)
		go func() {
			defer b.sends.Done()
			b.send(context.Background(), b.drain())
			b.flushing.Store(false)
		}()
	}
}

// Flush sends everything queued and waits for the transport
func (b *Batcher) Flush(ctx context.Context) error {
	return b.send(ctx, b.drain())
}

// Stop stops the flush loop, waits for in-flight sends and flushes the rest
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.sends.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return b.Flush(ctx)
}

// Stats returns how many uplinks were delivered and how many were lost
func (b *Batcher) Stats() (sent, failed int64) {
	return b.sent.Load(), b.failed.Load()
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				b.send(b.ctx, b.drain())
				b.flushing.Store(false)
			}
		}
	}
}

func (b *Batcher) drain() []ingest.Uplink {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	batch := make([]ingest.Uplink, len(b.queue))
	copy(batch, b.queue)
	b.queue = b.queue[:0]
	return batch
}

func (b *Batcher) send(ctx context.Context, batch []ingest.Uplink) error {
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := b.transport.Send(ctx, batch); err != nil {
		b.failed.Add(int64(len(batch)))
		b.logger.Warn("uplink batch not delivered", zap.Int("uplinks", len(batch)), zap.Error(err))
		return err
	}
	b.sent.Add(int64(len(batch)))
	b.logger.Debug("uplink batch delivered", zap.Int("uplinks", len(batch)))
	return nil
}

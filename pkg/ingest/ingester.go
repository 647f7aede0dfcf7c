package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/metrics"
	"github.com/nicktill/battmon/pkg/storage"
)

// Statuses reported for an uplink besides the storage.PutResult strings.
const (
	StatusIgnored  = "ignored_destination"
	StatusRejected = "rejected"
)

// Sources label where an uplink arrived from.
const (
	SourceHTTP   = "http"
	SourceMQTT   = "mqtt"
	SourceImport = "import"
)

// Acker acknowledges a first-stored record to its gateway.
type Acker interface {
	Ack(ctx context.Context, ack Ack) error
}

// Broadcaster fans out ingest events to live clients.
type Broadcaster interface {
	Broadcast(data interface{}) error
	HasClients() bool
}

// LimitChecker reports whether the store may accept more data.
type LimitChecker interface {
	CheckLimit() error
}

// Result is the per-uplink outcome returned to callers.
type Result struct {
	DeviceID       string `json:"device_id"`
	SequenceNumber int64  `json:"sequence_number"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// Ingester validates uplinks and stores them under the RSSI overwrite rule.
type Ingester struct {
	store   storage.Storage
	tracker *DeviceTracker
	acker   Acker
	hub     Broadcaster
	limit   LimitChecker
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithAcker publishes an ACK after every first store.
func WithAcker(a Acker) Option { return func(i *Ingester) { i.acker = a } }

// WithBroadcaster announces stored and updated records.
func WithBroadcaster(b Broadcaster) Option { return func(i *Ingester) { i.hub = b } }

// WithLimitChecker refuses new records once the checker reports the store full.
func WithLimitChecker(c LimitChecker) Option { return func(i *Ingester) { i.limit = c } }

// WithMetrics records ingest counters and latency.
func WithMetrics(m *metrics.Metrics) Option { return func(i *Ingester) { i.metrics = m } }

// WithTracker replaces the default device tracker.
func WithTracker(t *DeviceTracker) Option { return func(i *Ingester) { i.tracker = t } }

// NewIngester creates an ingester writing to store.
func NewIngester(store storage.Storage, logger *zap.Logger, opts ...Option) *Ingester {
	i := &Ingester{
		store:   store,
		tracker: NewDeviceTracker(0),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Tracker returns the device tracker fed by this ingester.
func (i *Ingester) Tracker() *DeviceTracker {
	return i.tracker
}

// Ingest handles one uplink. Uplinks addressed elsewhere are ignored without
// error. A failed ACK or broadcast is logged and does not fail the ingest.
func (i *Ingester) Ingest(ctx context.Context, source string, u Uplink) (Result, error) {
	start := time.Now()
	rec := u.Record
	res := Result{DeviceID: rec.DeviceID, SequenceNumber: rec.BucketIndex}

	if u.Destination != DestinationServer {
		res.Status = StatusIgnored
		i.metrics.ObserveIngest(source, res.Status, time.Since(start))
		return res, nil
	}

	if err := ValidateRecord(rec); err != nil {
		return i.reject(source, res, start, fmt.Errorf("invalid record: %w", err))
	}
	if err := i.tracker.Check(rec.DeviceID); err != nil {
		return i.reject(source, res, start, err)
	}

	if i.limit != nil {
		if err := i.limit.CheckLimit(); err != nil {
			i.metrics.ObserveIngest(source, metrics.ResultError, time.Since(start))
			return res, err
		}
	}

	put, err := i.store.Put(ctx, rec)
	if err != nil {
		i.metrics.ObserveIngest(source, metrics.ResultError, time.Since(start))
		return res, fmt.Errorf("store record: %w", err)
	}
	res.Status = put.String()
	i.tracker.Observe(rec)

	if put == storage.PutStored && i.acker != nil {
		if err := i.acker.Ack(ctx, NewAck(rec)); err != nil {
			i.logger.Warn("ack failed",
				zap.String("device_id", rec.DeviceID),
				zap.String("gateway_id", rec.GatewayID),
				zap.Error(err))
		}
	}

	if put != storage.PutSkipped && i.hub != nil && i.hub.HasClients() {
		if err := i.hub.Broadcast(RecordsEvent{
			Type:           EventRecordsIngested,
			DeviceID:       rec.DeviceID,
			SequenceNumber: rec.BucketIndex,
			GatewayID:      rec.GatewayID,
			Status:         res.Status,
		}); err != nil {
			i.logger.Warn("broadcast failed", zap.Error(err))
		}
	}

	i.metrics.ObserveIngest(source, res.Status, time.Since(start))
	i.logger.Debug("record ingested",
		zap.String("source", source),
		zap.String("device_id", rec.DeviceID),
		zap.Int64("sequence_number", rec.BucketIndex),
		zap.String("status", res.Status))
	return res, nil
}

func (i *Ingester) reject(source string, res Result, start time.Time, err error) (Result, error) {
	res.Status = StatusRejected
	res.Error = err.Error()
	i.metrics.ObserveIngest(source, res.Status, time.Since(start))
	return res, err
}

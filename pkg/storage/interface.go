package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/battmon/pkg/telemetry"
)

// ErrNoDevice is returned when a record or request has no device id.
var ErrNoDevice = errors.New("device id required")

// Storage defines the interface for record storage backends.
// Implementations: memory (testing), badger (production)
type Storage interface {
	// Put stores a record under (device, bucket), applying the RSSI overwrite rule
	Put(ctx context.Context, rec telemetry.Record) (PutResult, error)

	// Query returns the device's records in r, ascending by bucket
	Query(ctx context.Context, deviceID string, r telemetry.BucketRange) ([]telemetry.Record, error)

	// DeleteRange removes the device's records in r and returns how many were removed
	DeleteRange(ctx context.Context, deviceID string, r telemetry.BucketRange) (int, error)

	// DeleteAll removes every record of the device
	DeleteAll(ctx context.Context, deviceID string) (int, error)

	// DeleteBefore removes records of all devices with a bucket below the given one
	DeleteBefore(ctx context.Context, bucket int64) (int, error)

	// Devices lists device ids that have at least one record, sorted
	Devices(ctx context.Context) ([]string, error)

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// PutResult is the outcome of storing one record.
type PutResult int

const (
	// PutStored means no record existed for the key.
	PutStored PutResult = iota
	// PutUpdated means an existing record was replaced by one with stronger RSSI.
	PutUpdated
	// PutSkipped means the existing record was kept.
	PutSkipped
)

// String returns the status reported back to gateways.
func (r PutResult) String() string {
	switch r {
	case PutStored:
		return "first_stored"
	case PutUpdated:
		return "updated_rssi"
	case PutSkipped:
		return "no_update_needed"
	}
	return "unknown"
}

// ShouldReplace reports whether incoming may overwrite existing. Only a
// strictly stronger RSSI wins; a record without RSSI never overwrites.
func ShouldReplace(existing, incoming *telemetry.Record) bool {
	if incoming.RSSI == nil {
		return false
	}
	if existing.RSSI == nil {
		return true
	}
	return *incoming.RSSI > *existing.RSSI
}

// Stats provides storage health and usage info
type Stats struct {
	// Total records stored
	TotalRecords uint64 `json:"total_records"`

	// Devices with at least one record
	TotalDevices uint64 `json:"total_devices"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`

	// Oldest and newest bucket start; zero when empty
	OldestRecord time.Time `json:"oldest_record"`
	NewestRecord time.Time `json:"newest_record"`
}

// CloneRecord returns a deep copy of rec.
func CloneRecord(rec telemetry.Record) telemetry.Record {
	out := rec
	out.Samples = append([]float64(nil), rec.Samples...)
	out.RSSI = cloneFloat(rec.RSSI)
	out.Temperature = cloneFloat(rec.Temperature)
	out.Humidity = cloneFloat(rec.Humidity)
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

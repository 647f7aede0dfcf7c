package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nicktill/battmon/pkg/storage"
	"github.com/nicktill/battmon/pkg/telemetry"
)

// Storage stores records in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	records map[string]map[int64]telemetry.Record
	mu      sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		records: make(map[string]map[int64]telemetry.Record),
	}
}

// Put stores rec, keeping the stronger-RSSI copy per (device, bucket)
func (s *Storage) Put(ctx context.Context, rec telemetry.Record) (storage.PutResult, error) {
	if rec.DeviceID == "" {
		return 0, storage.ErrNoDevice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buckets, ok := s.records[rec.DeviceID]
	if !ok {
		buckets = make(map[int64]telemetry.Record)
		s.records[rec.DeviceID] = buckets
	}

	existing, ok := buckets[rec.BucketIndex]
	if !ok {
		buckets[rec.BucketIndex] = storage.CloneRecord(rec)
		return storage.PutStored, nil
	}
	if !storage.ShouldReplace(&existing, &rec) {
		return storage.PutSkipped, nil
	}
	buckets[rec.BucketIndex] = storage.CloneRecord(rec)
	return storage.PutUpdated, nil
}

// Query returns the device's records in r, ascending by bucket
func (s *Storage) Query(ctx context.Context, deviceID string, r telemetry.BucketRange) ([]telemetry.Record, error) {
	if deviceID == "" {
		return nil, storage.ErrNoDevice
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []telemetry.Record{}
	for bucket, rec := range s.records[deviceID] {
		if r.Contains(bucket) {
			results = append(results, storage.CloneRecord(rec))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].BucketIndex < results[j].BucketIndex
	})
	return results, nil
}

// DeleteRange removes the device's records in r
func (s *Storage) DeleteRange(ctx context.Context, deviceID string, r telemetry.BucketRange) (int, error) {
	if deviceID == "" {
		return 0, storage.ErrNoDevice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteLocked(deviceID, r.Contains), nil
}

// DeleteAll removes every record of the device
func (s *Storage) DeleteAll(ctx context.Context, deviceID string) (int, error) {
	if deviceID == "" {
		return 0, storage.ErrNoDevice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records[deviceID])
	delete(s.records, deviceID)
	return n, nil
}

// DeleteBefore removes records of every device with bucket < cutoff
func (s *Storage) DeleteBefore(ctx context.Context, cutoff int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for deviceID := range s.records {
		n += s.deleteLocked(deviceID, func(bucket int64) bool { return bucket < cutoff })
	}
	return n, nil
}

func (s *Storage) deleteLocked(deviceID string, match func(bucket int64) bool) int {
	buckets := s.records[deviceID]
	var n int
	for bucket := range buckets {
		if match(bucket) {
			delete(buckets, bucket)
			n++
		}
	}
	if len(buckets) == 0 {
		delete(s.records, deviceID)
	}
	return n
}

// Devices lists device ids with records, sorted
func (s *Storage) Devices(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]string, 0, len(s.records))
	for id := range s.records {
		devices = append(devices, id)
	}
	sort.Strings(devices)
	return devices, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{TotalDevices: uint64(len(s.records))}

	var oldest, newest int64
	for _, buckets := range s.records {
		for bucket, rec := range buckets {
			if stats.TotalRecords == 0 || bucket < oldest {
				oldest = bucket
			}
			if stats.TotalRecords == 0 || bucket > newest {
				newest = bucket
			}
			stats.TotalRecords++
			// rough size: 8 bytes per sample plus fixed fields
			stats.SizeBytes += uint64(len(rec.Samples)*8 + 96)
		}
	}

	if stats.TotalRecords > 0 {
		stats.OldestRecord = telemetry.BucketStart(oldest)
		stats.NewestRecord = telemetry.BucketStart(newest)
	}
	return stats, nil
}

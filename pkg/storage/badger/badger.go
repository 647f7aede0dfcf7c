package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/battmon/pkg/storage"
	"github.com/nicktill/battmon/pkg/telemetry"
)

// Key prefixes. Records live under rec/, the device index under dev/.
var (
	recordPrefix = []byte("rec/")
	devicePrefix = []byte("dev/")
)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB

	// putMu serializes Put's read-compare-write against other writers
	putMu sync.Mutex
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop defaults)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// 16 MB memtable unless told otherwise; below that badger flushes constantly
	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB << 20 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2). // badger refuses fewer than 2
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // default is 2GB per file

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// run executes fn off the caller's goroutine so a cancelled context returns
// promptly even while badger is blocked.
func run[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// Put stores rec, keeping the stronger-RSSI copy per (device, bucket)
func (s *Storage) Put(ctx context.Context, rec telemetry.Record) (storage.PutResult, error) {
	if rec.DeviceID == "" {
		return 0, storage.ErrNoDevice
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode record: %w", err)
	}

	return run(ctx, "put", func() (storage.PutResult, error) {
		s.putMu.Lock()
		defer s.putMu.Unlock()

		var res storage.PutResult
		err := s.db.Update(func(txn *badger.Txn) error {
			var txnErr error
			res, txnErr = putTxn(txn, &rec, value)
			return txnErr
		})
		return res, err
	})
}

func putTxn(txn *badger.Txn, rec *telemetry.Record, value []byte) (storage.PutResult, error) {
	key := recordKey(rec.DeviceID, rec.BucketIndex)

	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		if err := txn.Set(key, value); err != nil {
			return 0, fmt.Errorf("failed to write record: %w", err)
		}
		if err := txn.Set(deviceKey(rec.DeviceID), nil); err != nil {
			return 0, fmt.Errorf("failed to index device: %w", err)
		}
		return storage.PutStored, nil
	}
	if err != nil {
		return 0, err
	}

	var existing telemetry.Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &existing)
	}); err != nil {
		return 0, fmt.Errorf("failed to decode record: %w", err)
	}

	if !storage.ShouldReplace(&existing, rec) {
		return storage.PutSkipped, nil
	}
	if err := txn.Set(key, value); err != nil {
		return 0, fmt.Errorf("failed to write record: %w", err)
	}
	return storage.PutUpdated, nil
}

// Query returns the device's records with bucket in r, ascending
func (s *Storage) Query(ctx context.Context, deviceID string, r telemetry.BucketRange) ([]telemetry.Record, error) {
	if deviceID == "" {
		return nil, storage.ErrNoDevice
	}
	if r.Empty() {
		return []telemetry.Record{}, nil
	}

	return run(ctx, "query", func() ([]telemetry.Record, error) {
		results := []telemetry.Record{}
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			opts.Prefix = devicePrefixKey(deviceID)

			it := txn.NewIterator(opts)
			defer it.Close()

			end := recordKey(deviceID, r.End)
			var iterCount int
			for it.Seek(recordKey(deviceID, r.Start)); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

				item := it.Item()
				if bytes.Compare(item.Key(), end) > 0 {
					break
				}

				var rec telemetry.Record
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &rec)
				}); err != nil {
					return fmt.Errorf("failed to decode record: %w", err)
				}
				// the key prefix is a hash; skip foreign devices on collision
				if rec.DeviceID != deviceID {
					continue
				}
				results = append(results, rec)
			}
			return nil
		})
		return results, err
	})
}

// DeleteRange removes the device's records with bucket in r
func (s *Storage) DeleteRange(ctx context.Context, deviceID string, r telemetry.BucketRange) (int, error) {
	if deviceID == "" {
		return 0, storage.ErrNoDevice
	}
	if r.Empty() {
		return 0, nil
	}
	return run(ctx, "delete", func() (int, error) {
		return s.deleteMatching(ctx, devicePrefixKey(deviceID), func(dev string, bucket int64) bool {
			return dev == deviceID && r.Contains(bucket)
		})
	})
}

// DeleteAll removes every record of the device
func (s *Storage) DeleteAll(ctx context.Context, deviceID string) (int, error) {
	if deviceID == "" {
		return 0, storage.ErrNoDevice
	}
	return run(ctx, "delete", func() (int, error) {
		return s.deleteMatching(ctx, devicePrefixKey(deviceID), func(dev string, _ int64) bool {
			return dev == deviceID
		})
	})
}

// DeleteBefore removes records of every device with bucket < cutoff
func (s *Storage) DeleteBefore(ctx context.Context, cutoff int64) (int, error) {
	return run(ctx, "retention", func() (int, error) {
		return s.deleteMatching(ctx, recordPrefix, func(_ string, bucket int64) bool {
			return bucket < cutoff
		})
	})
}

// deleteMatching removes record keys under prefix accepted by match, then
// drops index entries of devices left without records. Keys are collected
// in a read transaction and removed with a WriteBatch, which splits large
// deletes across transactions.
func (s *Storage) deleteMatching(ctx context.Context, prefix []byte, match func(deviceID string, bucket int64) bool) (int, error) {
	s.putMu.Lock()
	defer s.putMu.Unlock()

	var keys [][]byte
	touched := make(map[string]struct{})

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			var rec telemetry.Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to decode record: %w", err)
			}
			if !match(rec.DeviceID, rec.BucketIndex) {
				continue
			}
			keys = append(keys, item.KeyCopy(nil))
			touched[rec.DeviceID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}

	if err := s.pruneDevices(touched); err != nil {
		return len(keys), err
	}
	return len(keys), nil
}

// pruneDevices removes index entries of the given devices that have no
// records left.
func (s *Storage) pruneDevices(devices map[string]struct{}) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for dev := range devices {
			has, err := hasRecords(txn, dev)
			if err != nil {
				return err
			}
			if !has {
				if err := txn.Delete(deviceKey(dev)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func hasRecords(txn *badger.Txn, deviceID string) (bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = devicePrefixKey(deviceID)

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var rec telemetry.Record
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return false, err
		}
		if rec.DeviceID == deviceID {
			return true, nil
		}
	}
	return false, nil
}

// Devices lists indexed device ids, sorted
func (s *Storage) Devices(ctx context.Context) ([]string, error) {
	return run(ctx, "devices", func() ([]string, error) {
		devices := []string{}
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = devicePrefix

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				devices = append(devices, string(it.Item().Key()[len(devicePrefix):]))
			}
			return nil
		})
		sort.Strings(devices)
		return devices, err
	})
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// This reclaims disk space from deleted/updated values
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	return run(ctx, "stats", func() (*storage.Stats, error) {
		stats := &storage.Stats{}

		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = recordPrefix

			it := txn.NewIterator(opts)
			var oldest, newest int64
			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					if err := ctx.Err(); err != nil {
						it.Close()
						return err
					}
				}

				bucket := parseBucket(it.Item().Key())
				if stats.TotalRecords == 0 || bucket < oldest {
					oldest = bucket
				}
				if stats.TotalRecords == 0 || bucket > newest {
					newest = bucket
				}
				stats.TotalRecords++
			}
			it.Close()

			if stats.TotalRecords > 0 {
				stats.OldestRecord = telemetry.BucketStart(oldest)
				stats.NewestRecord = telemetry.BucketStart(newest)
			}

			opts.Prefix = devicePrefix
			dit := txn.NewIterator(opts)
			defer dit.Close()
			for dit.Rewind(); dit.Valid(); dit.Next() {
				stats.TotalDevices++
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		lsmSize, vlogSize := s.db.Size()
		stats.SizeBytes = uint64(lsmSize + vlogSize)
		return stats, nil
	})
}

// recordKey creates a sortable key: prefix + device hash + bucket
// Format: [rec/][device hash (8 bytes)][bucket (8 bytes, sign bit flipped)]
func recordKey(deviceID string, bucket int64) []byte {
	key := make([]byte, 0, len(recordPrefix)+16)
	key = append(key, recordPrefix...)
	key = binary.BigEndian.AppendUint64(key, xxhash.Sum64String(deviceID))
	// flipping the sign bit makes negative buckets sort before positive ones
	return binary.BigEndian.AppendUint64(key, uint64(bucket)^(1<<63))
}

func devicePrefixKey(deviceID string) []byte {
	return recordKey(deviceID, 0)[:len(recordPrefix)+8]
}

func deviceKey(deviceID string) []byte {
	return append(append([]byte(nil), devicePrefix...), deviceID...)
}

// parseBucket extracts the bucket index from a record key
func parseBucket(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]) ^ (1 << 63))
}

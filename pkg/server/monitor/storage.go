package monitor

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrStorageFull is returned by CheckLimit once the data directory reaches
// the configured limit.
var ErrStorageFull = errors.New("storage limit reached")

const usageTTL = 10 * time.Second

// Usage is one scan of the badger data directory, in on-disk bytes.
type Usage struct {
	Total    int64 `json:"total_bytes"`
	ValueLog int64 `json:"value_log_bytes"` // *.vlog
	Tables   int64 `json:"table_bytes"`     // *.sst
	Files    int   `json:"files"`
}

// StorageMonitor measures the data directory against a byte limit. Scans are
// reused for usageTTL since walking a large value log directory is slow.
type StorageMonitor struct {
	dataDir  string
	maxBytes int64
	now      func() time.Time

	mu      sync.Mutex
	last    Usage
	scanned time.Time
}

// NewStorageMonitor creates a new storage monitor.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{dataDir: dataDir, maxBytes: maxBytes, now: time.Now}
}

// Usage returns the latest scan, rescanning when the cached one is stale.
func (sm *StorageMonitor) Usage() (Usage, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	if !sm.scanned.IsZero() && now.Sub(sm.scanned) < usageTTL {
		return sm.last, nil
	}

	u, err := scanDir(sm.dataDir)
	if err != nil {
		return Usage{}, err
	}
	sm.last, sm.scanned = u, now
	return u, nil
}

// GetUsage returns total bytes used by the data directory.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	u, err := sm.Usage()
	return u.Total, err
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// CheckLimit returns ErrStorageFull when usage is at or over the limit.
// A failed scan does not block writes.
func (sm *StorageMonitor) CheckLimit() error {
	used, err := sm.GetUsage()
	if err != nil {
		return nil
	}
	if used >= sm.maxBytes {
		return fmt.Errorf("%w: %d of %d bytes used", ErrStorageFull, used, sm.maxBytes)
	}
	return nil
}

func scanDir(root string) (Usage, error) {
	var u Usage
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// badger removes files during compaction and GC
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		n := diskUsage(path, info)
		u.Total += n
		u.Files++
		switch {
		case strings.HasSuffix(path, ".vlog"):
			u.ValueLog += n
		case strings.HasSuffix(path, ".sst"):
			u.Tables += n
		}
		return nil
	})
	return u, err
}

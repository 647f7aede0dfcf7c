package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/battmon/pkg/ingest"
	"github.com/nicktill/battmon/pkg/metrics"
	"github.com/nicktill/battmon/pkg/storage"
	"github.com/nicktill/battmon/pkg/telemetry"
)

// maxReportedErrors caps ImportResult.Errors
const maxReportedErrors = 50

// Importer handles importing records from backup files
type Importer struct {
	storage storage.Storage
	metrics *metrics.Metrics
}

// NewImporter creates a new importer. m may be nil.
func NewImporter(store storage.Storage, m *metrics.Metrics) *Importer {
	return &Importer{storage: store, metrics: m}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	RecordsRead int            `json:"records_read"`
	Counts      map[string]int `json:"counts"`
	TimeRange   string         `json:"time_range"`
	ImportedAt  time.Time      `json:"imported_at"`
	Errors      []string       `json:"errors,omitempty"`
}

// Import reads a backup ({"Items": [...]} or a bare array) and stores every
// valid record under the RSSI overwrite rule. Invalid records are reported
// and skipped; a storage failure aborts the import.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}

	records, err := telemetry.DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}

	result := &ImportResult{
		RecordsRead: len(records),
		Counts:      make(map[string]int),
		TimeRange:   "empty",
		ImportedAt:  time.Now(),
	}

	var (
		minBucket, maxBucket int64
		stored               int
	)
	for i, rec := range records {
		start := time.Now()
		if err := ingest.ValidateRecord(rec); err != nil {
			result.Counts[ingest.StatusRejected]++
			im.metrics.ObserveIngest(ingest.SourceImport, ingest.StatusRejected, time.Since(start))
			if len(result.Errors) < maxReportedErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i, err))
			}
			continue
		}

		put, err := im.storage.Put(ctx, rec)
		if err != nil {
			im.metrics.ObserveIngest(ingest.SourceImport, metrics.ResultError, time.Since(start))
			return result, fmt.Errorf("failed to store record %d: %w", i, err)
		}
		result.Counts[put.String()]++
		im.metrics.ObserveIngest(ingest.SourceImport, put.String(), time.Since(start))

		if stored == 0 || rec.BucketIndex < minBucket {
			minBucket = rec.BucketIndex
		}
		if stored == 0 || rec.BucketIndex > maxBucket {
			maxBucket = rec.BucketIndex
		}
		stored++
	}

	if stored > 0 {
		result.TimeRange = fmt.Sprintf("%s to %s",
			telemetry.BucketStart(minBucket).UTC().Format(time.RFC3339),
			telemetry.BucketStart(maxBucket).UTC().Format(time.RFC3339))
	}
	return result, nil
}

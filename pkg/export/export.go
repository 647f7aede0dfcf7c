package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/battmon/pkg/telemetry"
)

// Querier reads a device's records in an inclusive bucket range.
type Querier interface {
	Query(ctx context.Context, deviceID string, r telemetry.BucketRange) ([]telemetry.Record, error)
}

// CSVColumns is the column order of record CSV files.
var CSVColumns = []string{
	"gateway_id", "device_id", "sequence_number",
	"timestamp", "rssi", "temperature", "humidity", "voltages",
}

// Exporter handles exporting records to various formats
type Exporter struct {
	source Querier
}

// NewExporter creates a new exporter
func NewExporter(source Querier) *Exporter {
	return &Exporter{source: source}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	DeviceID string

	// Time range to export; the end bucket is excluded
	Start time.Time
	End   time.Time
}

// ExportResult contains stats about the export
type ExportResult struct {
	RecordsExported int       `json:"records_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Metadata heads a JSON backup file.
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	DeviceID    string    `json:"device_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	RecordCount int       `json:"record_count"`
	Version     string    `json:"version"`
}

// Backup is the JSON backup layout. Items keeps the file readable by
// telemetry.DecodeRecords and therefore by the importer.
type Backup struct {
	Metadata Metadata           `json:"metadata"`
	Items    []telemetry.Record `json:"Items"`
}

func (e *Exporter) query(ctx context.Context, opts ExportOptions) ([]telemetry.Record, error) {
	records, err := e.source.Query(ctx, opts.DeviceID, telemetry.QueryRange(opts.Start, opts.End))
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return records, nil
}

// ExportToJSON writes a JSON backup of the selected records.
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	backup := Backup{
		Metadata: Metadata{
			ExportedAt:  time.Now(),
			DeviceID:    opts.DeviceID,
			StartTime:   opts.Start,
			EndTime:     opts.End,
			RecordCount: len(records),
			Version:     "1.0",
		},
		Items: records,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return newResult(len(records), "json", opts, backup.Metadata.ExportedAt), nil
}

// ExportToCSV writes the selected records as CSV.
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := WriteRecordsCSV(w, records); err != nil {
		return nil, err
	}
	return newResult(len(records), "csv", opts, time.Now()), nil
}

func newResult(n int, format string, opts ExportOptions, at time.Time) *ExportResult {
	return &ExportResult{
		RecordsExported: n,
		TimeRange:       fmt.Sprintf("%s to %s", opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339)),
		Format:          format,
		ExportedAt:      at,
	}
}

// WriteRecordsCSV writes one line per record. Samples are joined with ';'
// in a single column and missing optional values are left empty.
func WriteRecordsCSV(w io.Writer, records []telemetry.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.GatewayID,
			rec.DeviceID,
			strconv.FormatInt(rec.BucketIndex, 10),
			strconv.FormatInt(rec.Timestamp, 10),
			formatOptional(rec.RSSI),
			formatOptional(rec.Temperature),
			formatOptional(rec.Humidity),
			joinSamples(rec.Samples),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func joinSamples(samples []float64) string {
	parts := make([]string, len(samples))
	for i, s := range samples {
		parts[i] = strconv.FormatFloat(s, 'f', -1, 64)
	}
	return strings.Join(parts, ";")
}

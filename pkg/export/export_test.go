package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/ingest"
	"github.com/nicktill/battmon/pkg/storage"
	"github.com/nicktill/battmon/pkg/storage/memory"
	"github.com/nicktill/battmon/pkg/storage/storagetest"
	"github.com/nicktill/battmon/pkg/table"
	"github.com/nicktill/battmon/pkg/telemetry"
)

func seed(t *testing.T, store storage.Storage, recs ...telemetry.Record) {
	t.Helper()
	for _, rec := range recs {
		_, err := store.Put(context.Background(), rec)
		require.NoError(t, err)
	}
}

func TestWriteRecordsCSV(t *testing.T) {
	rec := telemetry.Record{
		DeviceID:    "device-abc",
		GatewayID:   "gw-001",
		BucketIndex: 1000,
		Timestamp:   180000,
		RSSI:        telemetry.Float(-71),
		Temperature: telemetry.Float(22.5),
		Samples:     []float64{3.3, 3.25, 3.2},
	}

	buf := &bytes.Buffer{}
	require.NoError(t, WriteRecordsCSV(buf, []telemetry.Record{rec}))

	lines, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, CSVColumns, lines[0])
	assert.Equal(t, []string{"gw-001", "device-abc", "1000", "180000", "-71", "22.5", "", "3.3;3.25;3.2"}, lines[1])
}

func TestExportToJSON_RoundTrip(t *testing.T) {
	src := memory.New()
	defer src.Close()
	seed(t, src,
		storagetest.Record("device-abc", 1000, telemetry.Float(-70)),
		storagetest.Record("device-abc", 1001, nil),
		storagetest.Record("device-abc", 1020, nil), // end bucket, excluded
	)

	opts := ExportOptions{
		DeviceID: "device-abc",
		Start:    telemetry.BucketStart(1000),
		End:      telemetry.BucketStart(1020),
	}
	buf := &bytes.Buffer{}
	result, err := NewExporter(src).ExportToJSON(context.Background(), buf, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordsExported)
	assert.Equal(t, "json", result.Format)

	var backup Backup
	require.NoError(t, json.Unmarshal(buf.Bytes(), &backup))
	assert.Equal(t, 2, backup.Metadata.RecordCount)
	assert.Equal(t, "device-abc", backup.Metadata.DeviceID)
	require.Len(t, backup.Items, 2)

	dst := memory.New()
	defer dst.Close()
	imported, err := NewImporter(dst, nil).Import(context.Background(), bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, imported.RecordsRead)
	assert.Equal(t, 2, imported.Counts[storage.PutStored.String()])
	assert.Empty(t, imported.Errors)

	got, err := dst.Query(context.Background(), "device-abc", telemetry.BucketRange{Start: 0, End: 2000})
	require.NoError(t, err)
	assert.Equal(t, backup.Items, got)
}

func TestImport_ReportsInvalidRecords(t *testing.T) {
	store := memory.New()
	defer store.Close()
	seed(t, store, storagetest.Record("device-abc", 5, telemetry.Float(-60)))

	v := minuteOfSamples()
	body := `[
		{"device_id":"device-abc","sequence_number":5,"rssi":-80,"voltages":` + v + `},
		{"device_id":"device-abc","sequence_number":6,"rssi":-80,"voltages":[3.3]},
		{"device_id":"","sequence_number":7,"voltages":` + v + `},
		{"device_id":"device-abc","sequence_number":8,"voltages":` + v + `}
	]`
	result, err := NewImporter(store, nil).Import(context.Background(), strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, 4, result.RecordsRead)
	assert.Equal(t, 1, result.Counts[storage.PutSkipped.String()])
	assert.Equal(t, 1, result.Counts[storage.PutStored.String()])
	assert.Equal(t, 2, result.Counts[ingest.StatusRejected])
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "record 1")
}

func minuteOfSamples() string {
	return "[" + strings.TrimSuffix(strings.Repeat("3.3,", telemetry.SubwindowSize), ",") + "]"
}

func TestImport_UnknownShape(t *testing.T) {
	_, err := NewImporter(memory.New(), nil).Import(context.Background(), strings.NewReader(`{"metrics":[]}`))
	assert.ErrorIs(t, err, telemetry.ErrUnknownShape)
}

func TestWriteRowsXLSX_MergesRecordGroups(t *testing.T) {
	long := storagetest.Record("device-abc", 1000, telemetry.Float(-70))
	long.Samples = append(long.Samples, long.Samples...)
	long.Samples = append(long.Samples, long.Samples[:telemetry.SubwindowSize]...)
	short := storagetest.Record("device-abc", 1001, nil)

	series, err := telemetry.BuildSeries([]telemetry.Record{long, short})
	require.NoError(t, err)
	rows := table.BuildRows(series)
	require.Len(t, rows, 4)

	buf := &bytes.Buffer{}
	require.NoError(t, WriteRowsXLSX(buf, "device-abc", rows, time.UTC))

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetRows(readingsSheet)
	require.NoError(t, err)
	require.Len(t, header, 5)
	assert.Equal(t, XLSXHeader, header[0])

	merges, err := f.GetMergeCells(readingsSheet)
	require.NoError(t, err)
	var ranges []string
	for _, m := range merges {
		ranges = append(ranges, m.GetStartAxis()+":"+m.GetEndAxis())
	}
	assert.ElementsMatch(t, []string{"B2:B4", "C2:C4", "D2:D4"}, ranges)

	seq, err := f.GetCellValue(readingsSheet, "B5")
	require.NoError(t, err)
	assert.Equal(t, "1001", seq)

	width, err := f.GetColWidth(readingsSheet, "H")
	require.NoError(t, err)
	assert.Equal(t, 60.0, width)
}

func newTestHandler(t *testing.T) (*Handler, *memory.Storage) {
	t.Helper()
	store := memory.New()
	return NewHandler(store, NewImporter(store, nil), time.UTC, zap.NewNop()), store
}

func TestHandleRecords(t *testing.T) {
	handler, store := newTestHandler(t)
	seed(t, store,
		storagetest.Record("device-abc", 10, nil),
		storagetest.Record("device-abc", 11, nil),
		storagetest.Record("device-abc", 12, nil),
	)

	rr := httptest.NewRecorder()
	handler.HandleRecords(rr, httptest.NewRequest(http.MethodGet, "/v1/records?device_id=device-abc&start=10&end=11", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var records []telemetry.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	require.Len(t, records, 2, "end bucket is inclusive on the store contract")

	rr = httptest.NewRecorder()
	handler.HandleRecords(rr, httptest.NewRequest(http.MethodGet, "/v1/records?device_id=device-abc&start=10&end=12&format=csv", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Equal(t, 4, strings.Count(rr.Body.String(), "\n"))

	for _, target := range []string{
		"/v1/records?start=1&end=2",
		"/v1/records?device_id=device-abc&start=1",
		"/v1/records?device_id=device-abc&start=1&end=2&format=xml",
	} {
		rr = httptest.NewRecorder()
		handler.HandleRecords(rr, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestHandleExport(t *testing.T) {
	handler, store := newTestHandler(t)
	seed(t, store, storagetest.Record("device-abc", 1000, nil))

	start := telemetry.BucketStart(1000).Format(time.RFC3339)
	end := telemetry.BucketStart(1010).Format(time.RFC3339)

	rr := httptest.NewRecorder()
	handler.HandleExport(rr, httptest.NewRequest(http.MethodGet,
		"/v1/export?device_id=device-abc&format=csv&start="+start+"&end="+end, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "device-abc-")
	assert.Contains(t, rr.Body.String(), "gw-001,device-abc,1000")

	rr = httptest.NewRecorder()
	handler.HandleExport(rr, httptest.NewRequest(http.MethodGet,
		"/v1/export?device_id=device-abc&start=2025-01-01T00:00:00Z&end=2025-03-01T00:00:00Z", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code, "window over the export maximum")
}

func TestHandleImport(t *testing.T) {
	handler, store := newTestHandler(t)

	body := `{"metadata":{"version":"1.0"},"Items":[{"device_id":"device-abc","sequence_number":3,"voltages":` + minuteOfSamples() + `}]}`
	rr := httptest.NewRecorder()
	handler.HandleImport(rr, httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	var result ImportResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Counts[storage.PutStored.String()])

	devices, err := store.Devices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"device-abc"}, devices)

	rr = httptest.NewRecorder()
	handler.HandleImport(rr, httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader(`"nope"`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	readOnly := NewHandler(store, nil, time.UTC, zap.NewNop())
	rr = httptest.NewRecorder()
	readOnly.HandleImport(rr, httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader(body)))
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

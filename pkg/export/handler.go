package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/httpx"
	"github.com/nicktill/battmon/pkg/telemetry"
)

// Handler handles record read, export and import HTTP endpoints
type Handler struct {
	source   Querier
	exporter *Exporter
	importer *Importer
	loc      *time.Location
	logger   *zap.Logger
}

// NewHandler creates a new export/import handler. A nil importer disables
// POST /v1/import.
func NewHandler(source Querier, importer *Importer, loc *time.Location, logger *zap.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		source:   source,
		exporter: NewExporter(source),
		importer: importer,
		loc:      loc,
		logger:   logger,
	}
}

// HandleRecords handles GET /v1/records, the query contract of the record
// store.
// Query params:
//   - device_id: required
//   - start, end: inclusive bucket indices
//   - format: "json" (bare array, default) or "csv"
func (h *Handler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID := q.Get("device_id")
	if deviceID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "device_id is required")
		return
	}
	br, err := httpx.BucketRangeParams(q)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	format, err := formatParam(q.Get("format"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	records, err := h.source.Query(ctx, deviceID, br)
	if err != nil {
		h.logger.Error("query failed", zap.String("device_id", deviceID), zap.Error(err))
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		if err := WriteRecordsCSV(w, records); err != nil {
			h.logger.Error("csv write failed", zap.Error(err))
		}
		return
	}
	httpx.RespondJSON(w, http.StatusOK, records)
}

// HandleExport handles GET /v1/export
// Query params:
//   - device_id: required
//   - format: "json" or "csv" (default: json)
//   - start, end: RFC3339, local datetime or epoch seconds (default: last 24h)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID := q.Get("device_id")
	if deviceID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "device_id is required")
		return
	}
	format, err := formatParam(q.Get("format"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	start, end, err := httpx.TimeRangeParams(q, h.loc, time.Now(), config.DefaultExportWindow)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if end.Sub(start) > config.MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("time range too large, maximum is %v", config.MaxExportWindow))
		return
	}

	opts := ExportOptions{DeviceID: deviceID, Start: start, End: end}
	timestamp := time.Now().Format("20060102-150405")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s-%s.%s", deviceID, timestamp, format))

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	var result *ExportResult
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		result, err = h.exporter.ExportToJSON(ctx, w, opts)
	} else {
		w.Header().Set("Content-Type", "text/csv")
		result, err = h.exporter.ExportToCSV(ctx, w, opts)
	}
	if err != nil {
		h.logger.Error("export failed", zap.String("device_id", deviceID), zap.Error(err))
		w.Header().Del("Content-Disposition")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	h.logger.Info("records exported",
		zap.String("device_id", deviceID),
		zap.String("format", format),
		zap.Int("records", result.RecordsExported),
		zap.String("time_range", result.TimeRange))
}

// HandleImport handles POST /v1/import
// Accepts JSON backup files and stores their records.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		httpx.RespondErrorString(w, http.StatusNotImplemented, "import requires local storage")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.DeleteTimeout)
	defer cancel()

	result, err := h.importer.Import(ctx, http.MaxBytesReader(w, r.Body, config.MaxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			httpx.RespondError(w, http.StatusRequestEntityTooLarge, err)
		case errors.Is(err, telemetry.ErrUnknownShape), result == nil:
			httpx.RespondError(w, http.StatusBadRequest, err)
		default:
			h.logger.Error("import failed", zap.Error(err))
			httpx.RespondError(w, http.StatusInternalServerError, err)
		}
		return
	}

	if len(result.Errors) > 0 {
		h.logger.Warn("import completed with invalid records",
			zap.Int("rejected", len(result.Errors)),
			zap.Strings("first_errors", firstN(result.Errors, 10)))
	}
	h.logger.Info("records imported",
		zap.Int("read", result.RecordsRead),
		zap.Any("counts", result.Counts),
		zap.String("time_range", result.TimeRange))

	httpx.RespondJSON(w, http.StatusOK, result)
}

func formatParam(v string) (string, error) {
	switch v {
	case "", "json":
		return "json", nil
	case "csv":
		return "csv", nil
	}
	return "", fmt.Errorf("invalid format %q: must be 'json' or 'csv'", v)
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

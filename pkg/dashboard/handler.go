package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/deletion"
	"github.com/nicktill/battmon/pkg/export"
	"github.com/nicktill/battmon/pkg/httpx"
	"github.com/nicktill/battmon/pkg/prefs"
	"github.com/nicktill/battmon/pkg/remote"
	"github.com/nicktill/battmon/pkg/table"
	"github.com/nicktill/battmon/pkg/telemetry"
)

// UserHeader selects whose preferences a request reads and writes.
const UserHeader = "X-Battmon-User"

// Handler serves /v1/dashboard.
type Handler struct {
	service *Service
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler creates a dashboard handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger, now: time.Now}
}

// HandleDevices handles GET /v1/dashboard/devices
func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	devices, err := h.service.Devices(ctx)
	if err != nil {
		h.fail(w, "devices", err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, devices)
}

// HandleSeries handles GET /v1/dashboard/series?device_id=&start=&end=
func (h *Handler) HandleSeries(w http.ResponseWriter, r *http.Request) {
	res, ok := h.search(w, r)
	if !ok {
		return
	}
	httpx.RespondJSON(w, http.StatusOK, res)
}

// HandleTable handles GET /v1/dashboard/table
// Query params besides the search window:
//   - ascending: "true" or "false"; saved as the sort preference when it changes
//   - show_all: "true" expands the table past the first 18 minutes
//   - reveal: epoch milliseconds of a chart point to locate in the table
func (h *Handler) HandleTable(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	var opts TableOptions
	params := r.URL.Query()
	if v := params.Get("ascending"); v != "" {
		asc, err := strconv.ParseBool(v)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "ascending must be true or false")
			return
		}
		opts.Ascending = &asc
	}
	if opts.ShowAll, err = boolParam(params, "show_all"); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if params.Get("reveal") != "" {
		ts, err := httpx.Int64Param(params, "reveal")
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		opts.Reveal = &ts
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	res, err := h.service.Table(ctx, q, prefsKey(r), opts)
	if err != nil {
		h.fail(w, "table", err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, res)
}

// HandleChart handles GET /v1/dashboard/chart.png. An empty window answers
// 204 with no body.
func (h *Handler) HandleChart(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	width, err := dimensionParam(params, "width")
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	height, err := dimensionParam(params, "height")
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	res, ok := h.search(w, r)
	if !ok {
		return
	}
	if res.Empty() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	opts := ChartOptions{Title: res.DeviceID, Width: width, Height: height}

	var buf bytes.Buffer
	if err := RenderChart(&buf, res.Series, res.Axis, h.service.Location(), opts); err != nil {
		h.logger.Error("chart render failed", zap.String("device_id", res.DeviceID), zap.Error(err))
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// HandleExport handles GET /v1/dashboard/export?format=csv|xlsx. CSV holds
// the raw records, XLSX the table rows in ascending order.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "format must be csv or xlsx")
		return
	}

	res, ok := h.search(w, r)
	if !ok {
		return
	}

	var (
		buf         bytes.Buffer
		err         error
		contentType string
	)
	switch format {
	case "csv":
		contentType = "text/csv"
		err = export.WriteRecordsCSV(&buf, res.records)
	case "xlsx":
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = export.WriteRowsXLSX(&buf, res.DeviceID, table.BuildRows(res.Series), h.service.Location())
	}
	if err != nil {
		h.logger.Error("dashboard export failed", zap.String("format", format), zap.Error(err))
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	filename := fmt.Sprintf("%s-%s.%s", res.DeviceID, h.now().In(h.service.Location()).Format("20060102-150405"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.Write(buf.Bytes())
}

// HandlePreferences handles GET and PUT /v1/dashboard/preferences
func (h *Handler) HandlePreferences(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()
	key := prefsKey(r)

	if r.Method == http.MethodPut {
		p := prefs.Default()
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid preferences: %w", err))
			return
		}
		if err := h.service.SavePreferences(ctx, key, p); err != nil {
			h.fail(w, "save preferences", err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, p)
		return
	}

	p, err := h.service.Preferences(ctx, key)
	if err != nil {
		h.fail(w, "load preferences", err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, p)
}

// DeletionRequest is the body of POST /v1/dashboard/deletions. Start and
// End are only read for the range scope.
type DeletionRequest struct {
	Scope    deletion.Scope `json:"scope"`
	DeviceID string         `json:"device_id"`
	Start    string         `json:"start"`
	End      string         `json:"end"`
}

// HandleCreateDeletion handles POST /v1/dashboard/deletions
func (h *Handler) HandleCreateDeletion(w http.ResponseWriter, r *http.Request) {
	var req DeletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	q := Query{DeviceID: req.DeviceID}
	if req.Scope == deletion.ScopeRange {
		var err error
		if q.Start, err = httpx.ParseInstant(req.Start, h.service.Location()); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("start: %w", err))
			return
		}
		if q.End, err = httpx.ParseInstant(req.End, h.service.Location()); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("end: %w", err))
			return
		}
	}

	p, err := h.service.RequestDeletion(req.Scope, q)
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, p)
}

// HandleGetDeletion handles GET /v1/dashboard/deletions/{id}
func (h *Handler) HandleGetDeletion(w http.ResponseWriter, r *http.Request) {
	p, ok := h.service.Deletion(mux.Vars(r)["id"])
	if !ok {
		httpx.RespondError(w, http.StatusNotFound, ErrUnknownDeletion)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, p)
}

// ConfirmRequest is the body of POST /v1/dashboard/deletions/{id}/confirm
type ConfirmRequest struct {
	Phrase string `json:"phrase"`
}

// HandleConfirmDeletion handles POST /v1/dashboard/deletions/{id}/confirm.
// A wrong phrase answers 200 with performed false; the pending delete is
// gone either way.
func (h *Handler) HandleConfirmDeletion(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.DeleteTimeout)
	defer cancel()

	res, err := h.service.ConfirmDeletion(ctx, mux.Vars(r)["id"], req.Phrase)
	switch {
	case errors.Is(err, ErrUnknownDeletion):
		httpx.RespondError(w, http.StatusNotFound, err)
	case err != nil:
		httpx.RespondJSON(w, statusFor(err), res)
	default:
		httpx.RespondJSON(w, http.StatusOK, res)
	}
}

// HandleCancelDeletion handles DELETE /v1/dashboard/deletions/{id}
func (h *Handler) HandleCancelDeletion(w http.ResponseWriter, r *http.Request) {
	if !h.service.CancelDeletion(mux.Vars(r)["id"]) {
		httpx.RespondError(w, http.StatusNotFound, ErrUnknownDeletion)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseQuery(r *http.Request) (Query, error) {
	params := r.URL.Query()
	start, end, err := httpx.TimeRangeParams(params, h.service.Location(), h.now(), config.DefaultQueryWindow)
	if err != nil {
		return Query{}, err
	}
	return Query{DeviceID: params.Get("device_id"), Start: start, End: end}, nil
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) (*SearchResult, bool) {
	q, err := h.parseQuery(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	res, err := h.service.Search(ctx, q)
	if err != nil {
		h.fail(w, "search", err)
		return nil, false
	}
	return res, true
}

// boolParam reads an optional boolean; absent is false.
func boolParam(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false", name)
	}
	return b, nil
}

// dimensionParam reads an optional pixel size; absent is 0 (chart default).
func dimensionParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("dashboard request failed", zap.String("op", op), zap.Error(err))
	}
	httpx.RespondError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoDevice),
		errors.Is(err, ErrInvalidWindow),
		errors.Is(err, ErrWindowTooLarge),
		errors.Is(err, deletion.ErrInvalidScope),
		errors.Is(err, deletion.ErrNoDevice):
		return http.StatusBadRequest
	case errors.Is(err, telemetry.ErrMalformedRecord):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, remote.ErrRemote):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func prefsKey(r *http.Request) string {
	if user := r.Header.Get(UserHeader); user != "" {
		return user
	}
	return config.DefaultPreferencesKey
}

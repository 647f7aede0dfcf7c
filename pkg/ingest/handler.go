package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/httpx"
	"github.com/nicktill/battmon/pkg/server/monitor"
	"github.com/nicktill/battmon/pkg/storage"
	"github.com/nicktill/battmon/pkg/telemetry"
)

// maxBodyBytes caps an ingest request body
const maxBodyBytes = 8 << 20

// Handler serves the ingest and record store endpoints
type Handler struct {
	ingester *Ingester
	store    storage.Storage
	tracker  *DeviceTracker
	logger   *zap.Logger
}

// NewHandler creates a new ingest handler
func NewHandler(ingester *Ingester, store storage.Storage, logger *zap.Logger) *Handler {
	return &Handler{
		ingester: ingester,
		store:    store,
		tracker:  ingester.Tracker(),
		logger:   logger,
	}
}

// IngestResponse summarizes one ingest request
type IngestResponse struct {
	Results []Result       `json:"results"`
	Counts  map[string]int `json:"counts"`
}

// HandleRecords handles POST /v1/records with one uplink or an array of them.
func (h *Handler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httpx.RespondError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	uplinks, err := DecodeUplinks(body)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if len(uplinks) > config.MaxRecordsPerRequest {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("%w: got %d", ErrTooManyRecords, len(uplinks)))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	resp := IngestResponse{
		Results: make([]Result, 0, len(uplinks)),
		Counts:  make(map[string]int),
	}
	for _, u := range uplinks {
		res, err := h.ingester.Ingest(ctx, SourceHTTP, u)
		if err != nil && res.Status != StatusRejected {
			// storage failure, not a bad record
			h.logger.Error("ingest failed", zap.String("device_id", u.Record.DeviceID), zap.Error(err))
			httpx.RespondError(w, statusFor(err), err)
			return
		}
		resp.Results = append(resp.Results, res)
		resp.Counts[res.Status]++
	}

	if resp.Counts[StatusRejected] == len(uplinks) {
		httpx.RespondJSON(w, http.StatusBadRequest, resp)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleDeleteRecords handles DELETE /v1/records. Either all=true or an
// inclusive start/end bucket range is required.
func (h *Handler) HandleDeleteRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID := q.Get("device_id")
	if deviceID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "device_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.DeleteTimeout)
	defer cancel()

	var (
		deleted int
		err     error
	)
	if all, _ := strconv.ParseBool(q.Get("all")); all {
		deleted, err = h.store.DeleteAll(ctx, deviceID)
		if err == nil {
			h.tracker.Forget(deviceID)
		}
	} else {
		var rng telemetry.BucketRange
		rng, err = httpx.BucketRangeParams(q)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		deleted, err = h.store.DeleteRange(ctx, deviceID, rng)
	}
	if err != nil {
		h.logger.Error("delete failed", zap.String("device_id", deviceID), zap.Error(err))
		httpx.RespondError(w, statusFor(err), err)
		return
	}

	h.logger.Info("records deleted", zap.String("device_id", deviceID), zap.Int("deleted", deleted))
	httpx.RespondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// HandleDevices handles GET /v1/devices with a sorted JSON array of ids.
func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	devices, err := h.store.Devices(ctx)
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, devices)
}

// HandleStats handles GET /v1/ingest/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, h.tracker.Stats())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNoDevice):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, monitor.ErrStorageFull):
		return http.StatusInsufficientStorage
	}
	return http.StatusInternalServerError
}

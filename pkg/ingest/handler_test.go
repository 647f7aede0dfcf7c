package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/server/monitor"
	"github.com/nicktill/battmon/pkg/storage/memory"
	"github.com/nicktill/battmon/pkg/telemetry"
)

func newTestHandler(t *testing.T) (*Handler, *memory.Storage) {
	t.Helper()
	store := memory.New()
	return NewHandler(NewIngester(store, zap.NewNop()), store, zap.NewNop()), store
}

func TestHandleRecords(t *testing.T) {
	handler, store := newTestHandler(t)

	body := "[" + strings.Join([]string{
		uplinkJSON("server", "gw-001", "device-abc", 100, -70, 60),
		uplinkJSON("server", "gw-002", "device-abc", 100, -60, 60),
		uplinkJSON("gateway", "gw-001", "device-abc", 101, -60, 60),
		uplinkJSON("server", "gw-001", "device-abc", 102, -60, 7),
	}, ",") + "]"

	rr := httptest.NewRecorder()
	handler.HandleRecords(rr, httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 4)
	assert.Equal(t, map[string]int{
		"first_stored":        1,
		"updated_rssi":        1,
		"ignored_destination": 1,
		"rejected":            1,
	}, resp.Counts)

	recs, err := store.Query(context.Background(), "device-abc", telemetry.BucketRange{Start: 0, End: 200})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestHandleRecords_TooManyRecords(t *testing.T) {
	handler, _ := newTestHandler(t)

	one := uplinkJSON("server", "gw-001", "device-abc", 1, -60, 20)
	parts := make([]string, config.MaxRecordsPerRequest+1)
	for i := range parts {
		parts[i] = one
	}

	rr := httptest.NewRecorder()
	handler.HandleRecords(rr, httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader("["+strings.Join(parts, ",")+"]")))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Contains(t, resp["message"], "too many records")
}

func TestHandleRecords_AllInvalid(t *testing.T) {
	handler, _ := newTestHandler(t)

	rr := httptest.NewRecorder()
	handler.HandleRecords(rr, httptest.NewRequest(http.MethodPost, "/v1/records",
		strings.NewReader(uplinkJSON("server", "gw-001", "", 1, -60, 20))))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "device id cannot be empty")
}

func TestHandleDeleteRecords(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()
	for b := int64(0); b < 10; b++ {
		_, err := store.Put(ctx, storageRecord("device-abc", b, 20))
		require.NoError(t, err)
	}

	tests := []struct {
		query string
		code  int
		want  string
	}{
		{"device_id=device-abc&start=2&end=4", http.StatusOK, `{"deleted":3}`},
		{"device_id=device-abc&start=2&end=4", http.StatusOK, `{"deleted":0}`},
		{"device_id=device-abc&start=2", http.StatusBadRequest, "missing parameter: end"},
		{"start=2&end=4", http.StatusBadRequest, "device_id is required"},
		{"device_id=device-abc&all=true", http.StatusOK, `{"deleted":7}`},
	}

	for _, tt := range tests {
		rr := httptest.NewRecorder()
		handler.HandleDeleteRecords(rr, httptest.NewRequest(http.MethodDelete, "/v1/records?"+tt.query, nil))
		assert.Equal(t, tt.code, rr.Code, tt.query)
		assert.Contains(t, rr.Body.String(), tt.want, tt.query)
	}
}

func TestHandleDevices(t *testing.T) {
	handler, store := newTestHandler(t)

	rr := httptest.NewRecorder()
	handler.HandleDevices(rr, httptest.NewRequest(http.MethodGet, "/v1/devices", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	for _, id := range []string{"zeta", "alpha"} {
		_, err := store.Put(context.Background(), storageRecord(id, 1, 20))
		require.NoError(t, err)
	}

	rr = httptest.NewRecorder()
	handler.HandleDevices(rr, httptest.NewRequest(http.MethodGet, "/v1/devices", nil))
	assert.JSONEq(t, `["alpha","zeta"]`, rr.Body.String())
}

func TestHandleRecords_StorageFull(t *testing.T) {
	store := memory.New()
	ing := NewIngester(store, zap.NewNop(), WithLimitChecker(fullStore{err: monitor.ErrStorageFull}))
	handler := NewHandler(ing, store, zap.NewNop())

	body := uplinkJSON("server", "gw-001", "device-abc", 1, -60, 20)
	rr := httptest.NewRecorder()
	handler.HandleRecords(rr, httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(body)))

	assert.Equal(t, http.StatusInsufficientStorage, rr.Code)
}

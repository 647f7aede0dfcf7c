package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/ingest"
	"github.com/nicktill/battmon/pkg/metrics"
	"github.com/nicktill/battmon/pkg/prefs"
	"github.com/nicktill/battmon/pkg/server/monitor"
	"github.com/nicktill/battmon/pkg/storage/memory"
)

type testServer struct {
	handler http.Handler
	store   *memory.Storage
	mons    Monitors
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Port = "8080"

	store := memory.New()
	m := metrics.New()
	logger := zap.NewNop()
	hub := ingest.NewRecordsHub(logger)
	mons := Monitors{
		Storage:   monitor.NewStorageMonitor(t.TempDir(), cfg.MaxStorageBytes()),
		Retention: &monitor.RetentionMonitor{},
	}
	ing := InitializeIngester(store, mons.Storage, hub, nil, m, logger)
	h := InitializeHandlers(cfg, store, store, prefs.NewMemoryStore(), ing, hub, m, time.UTC, logger)

	return &testServer{
		handler: NewRouter(cfg, h, mons, store),
		store:   store,
		mons:    mons,
	}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, r)
	return rr
}

func uplink(device string, seq int64) string {
	samples := make([]string, 20)
	for i := range samples {
		samples[i] = "3.3"
	}
	return fmt.Sprintf(`{"destination":"server","gateway_id":"gw-001","device_id":%q,"sequence_number":%d,`+
		`"timestamp":1714128000,"rssi":-70,"voltages":[%s]}`, device, seq, strings.Join(samples, ","))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "no retention sweep has run yet")

	s.mons.Retention.RecordSuccess(0)
	rr = s.do(t, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, Version, resp.Version)
	require.NotNil(t, resp.Retention)
	assert.True(t, resp.Retention.Healthy)
}

func TestHealth_RetentionDisabled(t *testing.T) {
	rr := httptest.NewRecorder()
	handleHealth(nil)(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Nil(t, resp.Retention)
}

func TestIngestThenDashboard(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/v1/records", "["+uplink("device-abc", 100)+","+uplink("device-xyz", 100)+"]")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodGet, "/v1/dashboard/devices", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var devices []string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &devices))
	assert.Equal(t, []string{"device-abc", "device-xyz"}, devices)

	rr = s.do(t, http.MethodGet, "/v1/records?device_id=device-abc&start=0&end=200", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"device_id":"device-abc"`)

	rr = s.do(t, http.MethodDelete, "/v1/records?device_id=device-xyz&all=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"deleted":1}`, rr.Body.String())
}

func TestStorageUsage(t *testing.T) {
	s := newTestServer(t)
	_, err := s.store.Put(context.Background(), mustRecord(t))
	require.NoError(t, err)

	rr := s.do(t, http.MethodGet, "/v1/storage", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var usage StorageUsage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &usage))
	assert.Equal(t, s.mons.Storage.GetLimit(), usage.MaxBytes)
	assert.Equal(t, uint64(1), usage.TotalRecords)
	assert.Equal(t, uint64(1), usage.TotalDevices)
	assert.Equal(t, usage.UsedBytes, usage.Disk.Total)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/v1/records", uplink("device-abc", 1))

	rr := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `battmon_ingest_records_total{source="http",status="first_stored"} 1`)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)

	r := httptest.NewRequest(http.MethodOptions, "/v1/dashboard/preferences", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	r.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, r)

	assert.Less(t, rr.Code, 300)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	r.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, r)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAllowedOrigins(t *testing.T) {
	cfg := config.Default()
	cfg.Port = "9000"
	assert.Contains(t, AllowedOrigins(cfg), "http://localhost:9000")

	cfg.AllowedOrigins = []string{"https://dash.example"}
	assert.Equal(t, []string{"https://dash.example"}, AllowedOrigins(cfg))
}

func TestStorageFullRejectsIngest(t *testing.T) {
	cfg := config.Default()
	store := memory.New()
	logger := zap.NewNop()
	hub := ingest.NewRecordsHub(logger)

	dir := t.TempDir()
	full := monitor.NewStorageMonitor(dir, 1)
	require.NoError(t, writeFile(dir))

	ing := InitializeIngester(store, full, hub, nil, nil, logger)
	h := InitializeHandlers(cfg, store, store, prefs.NewMemoryStore(), ing, hub, metrics.New(), time.UTC, logger)
	handler := NewRouter(cfg, h, Monitors{Storage: full}, store)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(uplink("device-abc", 1))))
	assert.Equal(t, http.StatusInsufficientStorage, rr.Code)
	assert.True(t, errors.Is(full.CheckLimit(), monitor.ErrStorageFull))
}

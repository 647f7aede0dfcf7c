package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveIngest(t *testing.T) {
	m := New()
	m.ObserveIngest("mqtt", "first_stored", 10*time.Millisecond)
	m.ObserveIngest("mqtt", "first_stored", 10*time.Millisecond)
	m.ObserveIngest("http", "no_update_needed", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestRecords.WithLabelValues("mqtt", "first_stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestRecords.WithLabelValues("http", "no_update_needed")))
}

func TestObserveDeletion(t *testing.T) {
	m := New()
	m.ObserveDeletion("range", 20, nil)
	m.ObserveDeletion("all", 0, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletions.WithLabelValues("range", ResultSuccess)))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.deletedRecords.WithLabelValues("range")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletions.WithLabelValues("all", ResultError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.deletedRecords.WithLabelValues("all")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveIngest("http", "first_stored", time.Second)
		m.ObserveSeries(60, nil)
		m.ObserveDeletion("all", 1, nil)
		m.ObserveRemote("query", time.Second, nil)
		m.AddRetentionDeleted(3)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveSeries(60, nil)
	m.AddRetentionDeleted(5)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `battmon_series_builds_total{result="success"} 1`)
	assert.Contains(t, body, "battmon_retention_deleted_records_total 5")
	assert.Contains(t, body, "go_goroutines")
}

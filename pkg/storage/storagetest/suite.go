// Package storagetest holds behaviour tests shared by every storage backend.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/battmon/pkg/storage"
	"github.com/nicktill/battmon/pkg/telemetry"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) storage.Storage

// Record builds a valid record with one minute of samples.
func Record(deviceID string, bucket int64, rssi *float64) telemetry.Record {
	samples := make([]float64, telemetry.SubwindowSize)
	for i := range samples {
		samples[i] = 3.3
	}
	return telemetry.Record{
		DeviceID:    deviceID,
		GatewayID:   "gw-001",
		BucketIndex: bucket,
		RSSI:        rssi,
		Samples:     samples,
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"PutAndQuery", testPutAndQuery},
		{"OverwriteRule", testOverwriteRule},
		{"QueryRange", testQueryRange},
		{"DeleteRange", testDeleteRange},
		{"DeleteAll", testDeleteAll},
		{"DeleteBefore", testDeleteBefore},
		{"Devices", testDevices},
		{"Stats", testStats},
		{"ConcurrentPuts", testConcurrentPuts},
		{"RejectsMissingDevice", testRejectsMissingDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func testPutAndQuery(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	rec := Record("device-abc", 1000, telemetry.Float(-70))
	rec.Temperature = telemetry.Float(21.5)
	res, err := s.Put(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, storage.PutStored, res)

	got, err := s.Query(ctx, "device-abc", telemetry.BucketRange{Start: 1000, End: 1000})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

func testOverwriteRule(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	steps := []struct {
		rssi *float64
		want storage.PutResult
	}{
		{telemetry.Float(-80), storage.PutStored},
		{telemetry.Float(-85), storage.PutSkipped},
		{telemetry.Float(-80), storage.PutSkipped}, // equal is not stronger
		{nil, storage.PutSkipped},
		{telemetry.Float(-60), storage.PutUpdated},
	}
	for i, step := range steps {
		rec := Record("device-abc", 42, step.rssi)
		rec.GatewayID = fmt.Sprintf("gw-%d", i)
		res, err := s.Put(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, step.want, res, "step %d", i)
	}

	got, err := s.Query(ctx, "device-abc", telemetry.BucketRange{Start: 42, End: 42})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gw-4", got[0].GatewayID)
	assert.Equal(t, -60.0, *got[0].RSSI)
}

func testQueryRange(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	for _, b := range []int64{-3, -1, 0, 5, 9, 10, 11} {
		_, err := s.Put(ctx, Record("device-abc", b, nil))
		require.NoError(t, err)
	}
	_, err := s.Put(ctx, Record("device-xyz", 5, nil))
	require.NoError(t, err)

	got, err := s.Query(ctx, "device-abc", telemetry.BucketRange{Start: -1, End: 10})
	require.NoError(t, err)
	buckets := make([]int64, len(got))
	for i, r := range got {
		buckets[i] = r.BucketIndex
		assert.Equal(t, "device-abc", r.DeviceID)
	}
	assert.Equal(t, []int64{-1, 0, 5, 9, 10}, buckets)

	got, err = s.Query(ctx, "device-abc", telemetry.BucketRange{Start: 10, End: 9})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Query(ctx, "nobody", telemetry.BucketRange{Start: -100, End: 100})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testDeleteRange(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	for b := int64(0); b < 10; b++ {
		_, err := s.Put(ctx, Record("device-abc", b, nil))
		require.NoError(t, err)
		_, err = s.Put(ctx, Record("device-xyz", b, nil))
		require.NoError(t, err)
	}

	n, err := s.DeleteRange(ctx, "device-abc", telemetry.BucketRange{Start: 2, End: 5})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = s.DeleteRange(ctx, "device-abc", telemetry.BucketRange{Start: 2, End: 5})
	require.NoError(t, err)
	assert.Zero(t, n, "deleting twice is a no-op")

	left, err := s.Query(ctx, "device-abc", telemetry.BucketRange{Start: 0, End: 9})
	require.NoError(t, err)
	assert.Len(t, left, 6)

	other, err := s.Query(ctx, "device-xyz", telemetry.BucketRange{Start: 0, End: 9})
	require.NoError(t, err)
	assert.Len(t, other, 10, "other devices are untouched")
}

func testDeleteAll(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	for b := int64(0); b < 5; b++ {
		_, err := s.Put(ctx, Record("device-abc", b, nil))
		require.NoError(t, err)
	}
	_, err := s.Put(ctx, Record("device-xyz", 0, nil))
	require.NoError(t, err)

	n, err := s.DeleteAll(ctx, "device-abc")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	devices, err := s.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"device-xyz"}, devices)

	n, err = s.DeleteAll(ctx, "device-abc")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testDeleteBefore(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	for b := int64(0); b < 10; b++ {
		_, err := s.Put(ctx, Record("device-abc", b, nil))
		require.NoError(t, err)
	}
	_, err := s.Put(ctx, Record("device-old", 1, nil))
	require.NoError(t, err)

	n, err := s.DeleteBefore(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	got, err := s.Query(ctx, "device-abc", telemetry.BucketRange{Start: 0, End: 9})
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, int64(5), got[0].BucketIndex)

	devices, err := s.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"device-abc"}, devices, "emptied devices drop out")
}

func testDevices(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	devices, err := s.Devices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)

	for _, id := range []string{"zeta", "alpha", "mid", "alpha"} {
		_, err := s.Put(ctx, Record(id, 1, nil))
		require.NoError(t, err)
	}

	devices, err = s.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, devices)
}

func testStats(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRecords)
	assert.True(t, stats.OldestRecord.IsZero())

	for _, b := range []int64{100, 50, 200} {
		_, err := s.Put(ctx, Record("device-abc", b, nil))
		require.NoError(t, err)
	}
	_, err = s.Put(ctx, Record("device-xyz", 75, nil))
	require.NoError(t, err)

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), stats.TotalRecords)
	assert.Equal(t, uint64(2), stats.TotalDevices)
	assert.Equal(t, telemetry.BucketStart(50), stats.OldestRecord)
	assert.Equal(t, telemetry.BucketStart(200), stats.NewestRecord)
}

func testConcurrentPuts(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for b := int64(0); b < 20; b++ {
				_, err := s.Put(ctx, Record("device-abc", b, telemetry.Float(float64(-100+id))))
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	got, err := s.Query(ctx, "device-abc", telemetry.BucketRange{Start: 0, End: 19})
	require.NoError(t, err)
	require.Len(t, got, 20)
	for _, r := range got {
		assert.Equal(t, -91.0, *r.RSSI, "strongest copy wins regardless of order")
	}
}

func testRejectsMissingDevice(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_, err := s.Put(ctx, Record("", 1, nil))
	assert.ErrorIs(t, err, storage.ErrNoDevice)
	_, err = s.Query(ctx, "", telemetry.BucketRange{Start: 0, End: 1})
	assert.ErrorIs(t, err, storage.ErrNoDevice)
	_, err = s.DeleteAll(ctx, "")
	assert.ErrorIs(t, err, storage.ErrNoDevice)
}

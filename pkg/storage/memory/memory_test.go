package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/battmon/pkg/storage"
	"github.com/nicktill/battmon/pkg/storage/storagetest"
	"github.com/nicktill/battmon/pkg/telemetry"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return New()
	})
}

func TestMemoryStorage_StoresCopies(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	rec := storagetest.Record("device-abc", 1, telemetry.Float(-70))
	_, err := store.Put(ctx, rec)
	require.NoError(t, err)

	// mutating the caller's record must not reach the store
	rec.Samples[0] = 99
	*rec.RSSI = 0

	got, err := store.Query(ctx, "device-abc", telemetry.BucketRange{Start: 1, End: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3.3, got[0].Samples[0])
	assert.Equal(t, -70.0, *got[0].RSSI)

	// nor does mutating a query result
	got[0].Samples[1] = 42
	again, err := store.Query(ctx, "device-abc", telemetry.BucketRange{Start: 1, End: 1})
	require.NoError(t, err)
	assert.Equal(t, 3.3, again[0].Samples[1])
}

func TestMemoryStorage_StatsSize(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	for b := int64(0); b < 10; b++ {
		_, err := store.Put(ctx, storagetest.Record("device-abc", b, nil))
		require.NoError(t, err)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), stats.TotalRecords)
	assert.Greater(t, stats.SizeBytes, uint64(10*telemetry.SubwindowSize*8))
}

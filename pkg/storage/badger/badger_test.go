package badger

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/battmon/pkg/storage"
	"github.com/nicktill/battmon/pkg/storage/storagetest"
	"github.com/nicktill/battmon/pkg/telemetry"
)

func TestBadgerStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		// Use in-memory mode for tests
		store, err := New(Config{InMemory: true})
		require.NoError(t, err)
		return store
	})
}

func TestNew_MemoryBudget(t *testing.T) {
	store, err := New(Config{InMemory: true, MaxMemoryMB: 64})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	res, err := store.Put(ctx, storagetest.Record("device-abc", 1000, telemetry.Float(-70)))
	require.NoError(t, err)
	assert.Equal(t, storage.PutStored, res)

	got, err := store.Query(ctx, "device-abc", telemetry.BucketRange{Start: 1000, End: 1000})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBadgerStorage_Persistence(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "badger-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	ctx := context.Background()

	// Write to first instance
	{
		store, err := New(Config{Path: tmpDir})
		require.NoError(t, err)

		_, err = store.Put(ctx, storagetest.Record("persistent-device", 9520700, telemetry.Float(-71)))
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}

	// Read from second instance (reopens same directory)
	{
		store, err := New(Config{Path: tmpDir})
		require.NoError(t, err)
		defer store.Close()

		results, err := store.Query(ctx, "persistent-device", telemetry.BucketRange{Start: 9520700, End: 9520700})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, -71.0, *results[0].RSSI)

		devices, err := store.Devices(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"persistent-device"}, devices)
	}
}

func TestBadgerStorage_LargeDelete(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	// five days of buckets for one device
	const n = 5 * 24 * 20
	for b := int64(0); b < n; b++ {
		_, err := store.Put(ctx, storagetest.Record("bulk-device", b, nil))
		require.NoError(t, err)
	}

	deleted, err := store.DeleteAll(ctx, "bulk-device")
	require.NoError(t, err)
	assert.Equal(t, n, deleted)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRecords)
	assert.Zero(t, stats.TotalDevices)
}

func TestBadgerStorage_CancelledContext(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Put(ctx, storagetest.Record("device-abc", 1, nil))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Query(ctx, "device-abc", telemetry.BucketRange{Start: 0, End: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecordKey_Ordering(t *testing.T) {
	buckets := []int64{-1 << 40, -5, -1, 0, 1, 5, 1 << 40}
	for i := 1; i < len(buckets); i++ {
		prev := recordKey("device-abc", buckets[i-1])
		cur := recordKey("device-abc", buckets[i])
		assert.Less(t, string(prev), string(cur), "bucket %d sorts before %d", buckets[i-1], buckets[i])
		assert.Equal(t, buckets[i], parseBucket(cur))
	}
	assert.Equal(t, devicePrefixKey("device-abc"), recordKey("device-abc", 77)[:len(recordPrefix)+8])
}

func TestRunGC_NothingToRewrite(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := New(Config{Path: tmpDir})
	require.NoError(t, err)
	defer store.Close()

	// a fresh store has nothing to collect, which is not an error
	assert.NoError(t, store.RunGC(0.5))
}

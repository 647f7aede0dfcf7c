package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/metrics"
	"github.com/nicktill/battmon/pkg/server/monitor"
	"github.com/nicktill/battmon/pkg/storage/memory"
	"github.com/nicktill/battmon/pkg/storage/storagetest"
	"github.com/nicktill/battmon/pkg/telemetry"
)

func TestSweepRetention(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for b := int64(985); b <= 995; b++ {
		_, err := store.Put(ctx, storagetest.Record("device-abc", b, nil))
		require.NoError(t, err)
	}

	now := telemetry.BucketStart(1000).Add(90 * time.Second)
	deleted, err := SweepRetention(ctx, store, 10*telemetry.BucketSeconds*time.Second, now)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	left, err := store.Query(ctx, "device-abc", telemetry.BucketRange{Start: 0, End: 2000})
	require.NoError(t, err)
	require.Len(t, left, 6)
	assert.Equal(t, int64(990), left[0].BucketIndex, "the bucket holding the cutoff is kept")
}

func TestRunRetention_SweepsOnStartup(t *testing.T) {
	store := memory.New()
	_, err := store.Put(context.Background(), storagetest.Record("device-abc", 1, nil))
	require.NoError(t, err)
	_, err = store.Put(context.Background(), storagetest.Record("device-abc", telemetry.ToBucketIndex(time.Now()), nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mon := &monitor.RetentionMonitor{}
	var wg sync.WaitGroup
	wg.Add(1)
	RunRetention(ctx, store, 24*time.Hour, mon, metrics.New(), zap.NewNop(), &wg)
	wg.Wait()

	status := mon.Status(time.Hour)
	assert.True(t, status.Healthy)
	assert.Equal(t, 1, status.LastDeleted)

	devices, err := store.Devices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"device-abc"}, devices)
}

func TestRunRetention_Disabled(t *testing.T) {
	store := memory.New()
	_, err := store.Put(context.Background(), storagetest.Record("device-abc", 1, nil))
	require.NoError(t, err)

	mon := &monitor.RetentionMonitor{}
	var wg sync.WaitGroup
	wg.Add(1)
	RunRetention(context.Background(), store, 0, mon, nil, zap.NewNop(), &wg)
	wg.Wait()

	assert.False(t, mon.IsHealthy(time.Hour), "no sweep ran")
	devices, err := store.Devices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

type failingStore struct {
	*memory.Storage
	err error
}

func (f failingStore) DeleteBefore(ctx context.Context, bucket int64) (int, error) {
	return 0, f.err
}

func TestRunRetention_RetriesUntilCancelled(t *testing.T) {
	oldDelay := retentionBaseDelay
	retentionBaseDelay = time.Millisecond
	defer func() { retentionBaseDelay = oldDelay }()

	ctx, cancel := context.WithCancel(context.Background())
	mon := &monitor.RetentionMonitor{}
	store := failingStore{Storage: memory.New(), err: errors.New("disk gone")}

	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	go func() {
		RunRetention(ctx, store, time.Hour, mon, nil, zap.NewNop(), &wg)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return mon.Status(time.Hour).ConsecutiveErrors == retentionRetries+1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	status := mon.Status(time.Hour)
	assert.False(t, status.Healthy)
	assert.Equal(t, "disk gone", status.LastError)
}

type countingGC struct {
	mu    sync.Mutex
	calls int
}

func (c *countingGC) RunGC(discardRatio float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func TestRunBadgerGC_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gc := &countingGC{}

	var wg sync.WaitGroup
	wg.Add(1)
	go RunBadgerGC(ctx, gc, zap.NewNop(), &wg)
	cancel()
	wg.Wait()

	gc.mu.Lock()
	defer gc.mu.Unlock()
	assert.Zero(t, gc.calls, "first GC waits for the interval")
}

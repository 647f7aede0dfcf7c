package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSized(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
}

func TestStorageMonitor_GetLimit(t *testing.T) {
	sm := NewStorageMonitor("/tmp", 1<<30)
	assert.Equal(t, int64(1<<30), sm.GetLimit())
}

func TestStorageMonitor_Usage(t *testing.T) {
	dir := t.TempDir()
	writeSized(t, dir, "000001.vlog", 16*1024)
	writeSized(t, dir, "000002.sst", 8*1024)
	writeSized(t, dir, "sub/MANIFEST", 8*1024)

	u, err := NewStorageMonitor(dir, 1<<30).Usage()
	require.NoError(t, err)
	assert.Equal(t, 3, u.Files)
	assert.GreaterOrEqual(t, u.ValueLog, int64(16*1024))
	assert.GreaterOrEqual(t, u.Tables, int64(8*1024))
	assert.GreaterOrEqual(t, u.Total, u.ValueLog+u.Tables+8*1024)
}

func TestStorageMonitor_Caching(t *testing.T) {
	dir := t.TempDir()
	sm := NewStorageMonitor(dir, 1<<30)
	now := time.Date(2024, 4, 26, 12, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }

	first, err := sm.Usage()
	require.NoError(t, err)
	assert.Zero(t, first.Files)

	writeSized(t, dir, "late.sst", 64*1024)
	cached, err := sm.Usage()
	require.NoError(t, err)
	assert.Equal(t, first, cached, "served from cache inside the TTL")

	now = now.Add(usageTTL)
	fresh, err := sm.Usage()
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Files)
}

func TestStorageMonitor_InvalidDir(t *testing.T) {
	sm := NewStorageMonitor("/nonexistent/path/12345", 1<<30)
	_, err := sm.GetUsage()
	assert.Error(t, err)
	assert.NoError(t, sm.CheckLimit(), "scan failures do not block writes")
}

func TestStorageMonitor_CheckLimit(t *testing.T) {
	dir := t.TempDir()
	writeSized(t, dir, "000001.vlog", 8192)

	assert.NoError(t, NewStorageMonitor(dir, 1<<30).CheckLimit())
	assert.ErrorIs(t, NewStorageMonitor(dir, 10).CheckLimit(), ErrStorageFull)
}

package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nicktill/battmon/pkg/storage/storagetest"
	"github.com/nicktill/battmon/pkg/telemetry"
)

func mustRecord(t *testing.T) telemetry.Record {
	t.Helper()
	return storagetest.Record("device-abc", 100, telemetry.Float(-70))
}

func writeFile(dir string) error {
	return os.WriteFile(filepath.Join(dir, "000001.vlog"), make([]byte, 4096), 0644)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BATTMON_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, SourceLocal, cfg.Source)
	assert.Equal(t, DefaultRetentionDays, cfg.RetentionDays)
	assert.Equal(t, DefaultMQTTUplinkTopic, cfg.MQTT.Topic)
	assert.Equal(t, 90*24*time.Hour, cfg.Retention())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "battmon.yaml")
	yml := `
port: "9090"
source: remote
remote:
  base_url: https://api.example.com/prod
  retries: 5
time_zone: Asia/Tokyo
retention_days: 30
allowed_origins: [https://a.example.com]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("BATTMON_CONFIG", path)
	t.Setenv("BATTMON_PORT", "7070")
	t.Setenv("BATTMON_ALLOWED_ORIGINS", "https://b.example.com, https://c.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port, "env wins over yaml")
	assert.Equal(t, SourceRemote, cfg.Source)
	assert.Equal(t, "https://api.example.com/prod", cfg.Remote.BaseURL)
	assert.Equal(t, 5, cfg.Remote.Retries)
	assert.Equal(t, DefaultRemoteTimeout, cfg.Remote.Timeout, "unset yaml keys keep defaults")
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, []string{"https://b.example.com", "https://c.example.com"}, cfg.AllowedOrigins)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", loc.String())
}

func TestLoad_BadEnvNumber(t *testing.T) {
	t.Setenv("BATTMON_CONFIG", "")
	t.Setenv("BATTMON_RETENTION_DAYS", "ninety")

	_, err := Load()
	assert.ErrorContains(t, err, "BATTMON_RETENTION_DAYS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"remote without url", func(c *Config) { c.Source = SourceRemote }, false},
		{"unknown source", func(c *Config) { c.Source = "s3" }, false},
		{"zero storage", func(c *Config) { c.MaxStorageGB = 0 }, false},
		{"negative retention", func(c *Config) { c.RetentionDays = -1 }, false},
		{"bad zone", func(c *Config) { c.TimeZone = "Mars/Olympus" }, false},
		{"utc", func(c *Config) { c.TimeZone = "UTC" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMaxStorageBytes(t *testing.T) {
	cfg := Default()
	cfg.MaxStorageGB = 0.5
	assert.Equal(t, int64(512*1024*1024), cfg.MaxStorageBytes())
}

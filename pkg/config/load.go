package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Source modes.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Config is the runtime configuration of the server.
type Config struct {
	Port         string  `yaml:"port"`
	DataDir      string  `yaml:"data_dir"`
	MaxStorageGB float64 `yaml:"max_storage_gb"`
	MaxMemoryMB  int64   `yaml:"max_memory_mb"`

	// Source selects where the dashboard reads records: the local store or
	// a remote record API.
	Source string       `yaml:"source"`
	Remote RemoteConfig `yaml:"remote"`

	RedisAddr string     `yaml:"redis_addr"`
	MQTT      MQTTConfig `yaml:"mqtt"`

	// TimeZone is the IANA zone used for axis labels and midnight ticks.
	TimeZone      string `yaml:"time_zone"`
	RetentionDays int    `yaml:"retention_days"`

	RangeDeletePhrase string `yaml:"range_delete_phrase"`
	AllDeletePhrase   string `yaml:"all_delete_phrase"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// RemoteConfig configures the remote record API client.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// MQTTConfig configures gateway ingest. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:         DefaultPort,
		DataDir:      DefaultDataDir,
		MaxStorageGB: DefaultMaxStorageGB,
		MaxMemoryMB:  DefaultMaxMemoryMB,
		Source:       SourceLocal,
		Remote: RemoteConfig{
			Timeout: DefaultRemoteTimeout,
			Retries: DefaultRemoteRetries,
		},
		MQTT: MQTTConfig{
			ClientID: DefaultMQTTClientID,
			Topic:    DefaultMQTTUplinkTopic,
		},
		TimeZone:      "Local",
		RetentionDays: DefaultRetentionDays,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// Load builds the configuration: defaults, then an optional .env file, then
// the YAML file named by BATTMON_CONFIG, then BATTMON_* environment variables.
func Load() (Config, error) {
	// a missing .env is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("BATTMON_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Port, "BATTMON_PORT")
	setString(&cfg.DataDir, "BATTMON_DATA_DIR")
	setString(&cfg.Source, "BATTMON_SOURCE")
	setString(&cfg.Remote.BaseURL, "BATTMON_REMOTE_URL")
	setString(&cfg.RedisAddr, "BATTMON_REDIS_ADDR")
	setString(&cfg.MQTT.Broker, "BATTMON_MQTT_BROKER")
	setString(&cfg.MQTT.ClientID, "BATTMON_MQTT_CLIENT_ID")
	setString(&cfg.MQTT.Topic, "BATTMON_MQTT_TOPIC")
	setString(&cfg.MQTT.Username, "BATTMON_MQTT_USERNAME")
	setString(&cfg.MQTT.Password, "BATTMON_MQTT_PASSWORD")
	setString(&cfg.TimeZone, "BATTMON_TIME_ZONE")
	setString(&cfg.RangeDeletePhrase, "BATTMON_RANGE_DELETE_PHRASE")
	setString(&cfg.AllDeletePhrase, "BATTMON_ALL_DELETE_PHRASE")
	setString(&cfg.LogLevel, "BATTMON_LOG_LEVEL")
	setString(&cfg.LogFormat, "BATTMON_LOG_FORMAT")

	if v := os.Getenv("BATTMON_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("BATTMON_MAX_STORAGE_GB"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("BATTMON_MAX_STORAGE_GB: %w", err)
		}
		cfg.MaxStorageGB = f
	}
	if v := os.Getenv("BATTMON_MAX_MEMORY_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("BATTMON_MAX_MEMORY_MB: %w", err)
		}
		cfg.MaxMemoryMB = n
	}
	if v := os.Getenv("BATTMON_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BATTMON_RETENTION_DAYS: %w", err)
		}
		cfg.RetentionDays = n
	}
	if v := os.Getenv("BATTMON_REMOTE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BATTMON_REMOTE_TIMEOUT: %w", err)
		}
		cfg.Remote.Timeout = d
	}
	return nil
}

// Validate checks values that would otherwise fail later at startup.
func (c Config) Validate() error {
	switch c.Source {
	case SourceLocal:
	case SourceRemote:
		if c.Remote.BaseURL == "" {
			return errors.New("remote source requires a base url")
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	if c.MaxStorageGB <= 0 {
		return fmt.Errorf("max storage must be positive, got %v", c.MaxStorageGB)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative, got %d", c.RetentionDays)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TimeZone. Empty and "Local" mean the server's zone.
func (c Config) Location() (*time.Location, error) {
	switch c.TimeZone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// MaxStorageBytes converts MaxStorageGB to bytes.
func (c Config) MaxStorageBytes() int64 {
	return int64(c.MaxStorageGB * 1024 * 1024 * 1024)
}

// Retention returns the retention period, zero when disabled.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
)

// Background task intervals
const (
	RetentionInterval = 1 * time.Hour
	BadgerGCInterval  = 10 * time.Minute
	StorageCheckEvery = 1 * time.Minute
)

// Retention defaults
const (
	DefaultRetentionDays = 90
)

// Ingest timeouts and limits
const (
	IngestTimeout        = 5 * time.Second
	MaxRecordsPerRequest = 500
	MaxDeviceIDLength    = 128
	MaxGatewayIDLength   = 128
	// MaxSamplesPerRecord allows up to one hour of samples in one record
	MaxSamplesPerRecord = 60 * 20
	MaxImportBytes      = 64 << 20
)

// Dashboard timeouts and defaults
const (
	QueryTimeout          = 30 * time.Second
	DeleteTimeout         = 60 * time.Second
	DefaultQueryWindow    = 1 * time.Hour
	MaxQueryWindow        = 90 * 24 * time.Hour
	PendingDeletionTTL    = 5 * time.Minute
	DefaultChartWidth     = 1024
	DefaultChartHeight    = 400
	MaxChartDimension     = 4096
	PreferencesKeyPrefix  = "battmon:prefs:"
	DefaultPreferencesKey = "default"
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 30 * 24 * time.Hour
)

// Remote source defaults
const (
	DefaultRemoteTimeout = 15 * time.Second
	DefaultRemoteRetries = 2
)

// MQTT defaults
const (
	DefaultMQTTClientID    = "battmon-server"
	DefaultMQTTUplinkTopic = "battery-monitor/+/up"
	// UplinkTopicFormat and AckTopicFormat take the gateway id
	UplinkTopicFormat  = "battery-monitor/%s/up"
	AckTopicFormat     = "battery-monitor/%s/down/ack"
	MQTTQoS            = 1
	MQTTConnectTimeout = 10 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

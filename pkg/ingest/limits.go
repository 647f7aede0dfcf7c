package ingest

import (
	"errors"
	"fmt"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/telemetry"
)

var (
	// ErrDeviceIDEmpty is returned when a record has no device id
	ErrDeviceIDEmpty = errors.New("device id cannot be empty")

	// ErrDeviceIDTooLong is returned when a device id is too long
	ErrDeviceIDTooLong = fmt.Errorf("device id too long (max %d chars)", config.MaxDeviceIDLength)

	// ErrGatewayIDTooLong is returned when a gateway id is too long
	ErrGatewayIDTooLong = fmt.Errorf("gateway id too long (max %d chars)", config.MaxGatewayIDLength)

	// ErrTooManySamples is returned when a record carries more than an hour of samples
	ErrTooManySamples = fmt.Errorf("too many samples (max %d)", config.MaxSamplesPerRecord)

	// ErrTooManyRecords is returned when an ingest request contains too many records
	ErrTooManyRecords = fmt.Errorf("too many records in request (max %d)", config.MaxRecordsPerRequest)
)

// ValidateRecord checks a record before it is stored.
func ValidateRecord(rec telemetry.Record) error {
	if rec.DeviceID == "" {
		return ErrDeviceIDEmpty
	}
	if len(rec.DeviceID) > config.MaxDeviceIDLength {
		return fmt.Errorf("%w: %d chars", ErrDeviceIDTooLong, len(rec.DeviceID))
	}
	if len(rec.GatewayID) > config.MaxGatewayIDLength {
		return fmt.Errorf("%w: %d chars", ErrGatewayIDTooLong, len(rec.GatewayID))
	}
	if len(rec.Samples) > config.MaxSamplesPerRecord {
		return fmt.Errorf("%w: device %q sent %d", ErrTooManySamples, rec.DeviceID, len(rec.Samples))
	}
	return rec.Validate()
}

package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nicktill/battmon/pkg/telemetry"
)

// DestinationServer marks uplinks meant for this server. Gateways use the
// same broker for messages addressed elsewhere.
const DestinationServer = "server"

// RequiredFields must be present in every uplink.
var RequiredFields = []string{"destination", "gateway_id", "device_id", "sequence_number", "timestamp"}

var (
	// ErrMissingField is returned when an uplink lacks a required field.
	ErrMissingField = errors.New("missing required field")
	// ErrEmptyBody is returned for requests without a payload.
	ErrEmptyBody = errors.New("empty payload")
)

// Uplink is a record as forwarded by a gateway.
type Uplink struct {
	Destination string
	Record      telemetry.Record
}

// MarshalJSON writes the gateway wire form: the record fields plus destination.
func (u Uplink) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Destination string `json:"destination"`
		telemetry.Record
	}{u.Destination, u.Record})
}

// DecodeUplink parses one uplink and checks required fields.
func DecodeUplink(data []byte) (Uplink, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Uplink{}, fmt.Errorf("invalid JSON: %w", err)
	}
	for _, f := range RequiredFields {
		if _, ok := fields[f]; !ok {
			return Uplink{}, fmt.Errorf("%w: %s", ErrMissingField, f)
		}
	}

	var u Uplink
	if err := json.Unmarshal(fields["destination"], &u.Destination); err != nil {
		return Uplink{}, fmt.Errorf("destination: %w", err)
	}
	if err := json.Unmarshal(data, &u.Record); err != nil {
		return Uplink{}, err
	}
	return u, nil
}

// DecodeUplinks accepts a single uplink object or an array of them.
func DecodeUplinks(data []byte) ([]Uplink, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyBody
	}
	if data[0] != '[' {
		u, err := DecodeUplink(data)
		if err != nil {
			return nil, err
		}
		return []Uplink{u}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	uplinks := make([]Uplink, 0, len(raws))
	for i, raw := range raws {
		u, err := DecodeUplink(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		uplinks = append(uplinks, u)
	}
	return uplinks, nil
}

// Ack is published back to the gateway after a record is first stored.
type Ack struct {
	Destination    string `json:"destination"`
	GatewayID      string `json:"gateway_id"`
	DeviceID       string `json:"device_id"`
	SequenceNumber string `json:"sequence_number"`
	Timestamp      int64  `json:"timestamp"`
	Status         string `json:"status"`
}

// NewAck builds the acknowledgement for rec.
func NewAck(rec telemetry.Record) Ack {
	return Ack{
		Destination:    "gateway",
		GatewayID:      rec.GatewayID,
		DeviceID:       rec.DeviceID,
		SequenceNumber: fmt.Sprint(rec.BucketIndex),
		Timestamp:      rec.Timestamp,
		Status:         "ack",
	}
}

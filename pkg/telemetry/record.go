package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Record is one coarse storage unit: all samples a device reported for a
// single bucket.
type Record struct {
	DeviceID    string    `json:"device_id"`
	BucketIndex int64     `json:"sequence_number"`
	GatewayID   string    `json:"gateway_id,omitempty"`
	Timestamp   int64     `json:"timestamp,omitempty"` // device clock, epoch seconds
	RSSI        *float64  `json:"rssi"`
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	Samples     []float64 `json:"voltages"`
}

// ErrUnknownShape is returned when a response body is neither an array of
// records nor an object with an Items array.
var ErrUnknownShape = errors.New("unrecognized record response shape")

// UnmarshalJSON accepts sequence_number and timestamp as numbers or as
// numeric strings. Some stores keep the sequence number as a string key.
func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	aux := struct {
		*alias
		BucketIndex json.RawMessage `json:"sequence_number"`
		Timestamp   json.RawMessage `json:"timestamp"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	idx, err := flexInt(aux.BucketIndex)
	if err != nil {
		return fmt.Errorf("sequence_number: %w", err)
	}
	r.BucketIndex = idx

	ts, err := flexInt(aux.Timestamp)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	r.Timestamp = ts
	return nil
}

// flexInt decodes an integer that may be quoted. Empty and null decode to 0.
func flexInt(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return strconv.ParseInt(s, 10, 64)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// DecodeRecords normalizes a query response into records. Both a bare JSON
// array and an object of the form {"Items": [...]} are accepted.
func DecodeRecords(data []byte) ([]Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrUnknownShape
	}

	switch data[0] {
	case '[':
		var records []Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decode record array: %w", err)
		}
		return records, nil
	case '{':
		var envelope struct {
			Items *[]Record `json:"Items"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("decode record envelope: %w", err)
		}
		if envelope.Items == nil {
			return nil, ErrUnknownShape
		}
		return *envelope.Items, nil
	default:
		return nil, ErrUnknownShape
	}
}

// Float returns a pointer to v, for optional record fields.
func Float(v float64) *float64 {
	return &v
}

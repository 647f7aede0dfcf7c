package telemetry

import (
	"errors"
	"fmt"
)

const (
	// SubwindowSize is the number of samples aggregated into one Point.
	SubwindowSize = 20

	// SubwindowDurationMs is the wall-clock span of one sub-window.
	SubwindowDurationMs = 60_000
)

// ErrMalformedRecord is returned for records whose sample count is not a
// multiple of SubwindowSize.
var ErrMalformedRecord = errors.New("malformed record")

// Point is one aggregated, timestamped value derived from a sub-window.
type Point struct {
	TimestampMs int64    `json:"timestamp"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	AvgVoltage  float64  `json:"avgVoltage"`

	record *Record
	offset int
}

// Record returns the record the point was expanded from.
func (p Point) Record() *Record {
	return p.record
}

// MinuteOffset returns the sub-window position inside the parent record.
func (p Point) MinuteOffset() int {
	return p.offset
}

// Samples returns the raw sub-window the point averages.
func (p Point) Samples() []float64 {
	if p.record == nil {
		return nil
	}
	lo := p.offset * SubwindowSize
	return p.record.Samples[lo : lo+SubwindowSize]
}

// Validate checks the sample-count invariant.
func (r *Record) Validate() error {
	if n := len(r.Samples); n%SubwindowSize != 0 {
		return fmt.Errorf("%w: device %q bucket %d has %d samples, want a multiple of %d",
			ErrMalformedRecord, r.DeviceID, r.BucketIndex, n, SubwindowSize)
	}
	return nil
}

// Expand turns one record into consecutive one-minute points. A record with
// no samples yields no points.
func Expand(rec *Record) ([]Point, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	base := BucketStartEpochSeconds(rec.BucketIndex)
	points := make([]Point, 0, len(rec.Samples)/SubwindowSize)

	for i := 0; i < len(rec.Samples); i += SubwindowSize {
		minute := i / SubwindowSize
		points = append(points, Point{
			TimestampMs: (base + int64(minute)*60) * 1000,
			Temperature: rec.Temperature,
			Humidity:    rec.Humidity,
			AvgVoltage:  mean(rec.Samples[i : i+SubwindowSize]),
			record:      rec,
			offset:      minute,
		})
	}
	return points, nil
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

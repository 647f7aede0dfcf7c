// Package telemetry turns battery-sensor records into display-ready time series.
//
// # Storage buckets
//
// The record store groups raw voltage samples into coarse buckets of 180 seconds.
// Each Record carries the bucket index (the "sequence number" reported by the
// device) and a fixed-size array of samples, usually 60 of them:
//
//	bucket 9520711 -> [3.30 3.28 3.29 ... 3.30]   (60 samples = 3 minutes)
//
// # Expansion
//
// Every 20 consecutive samples cover one minute of wall-clock time and collapse
// into a single Point holding their mean:
//
//	samples[0:20]  -> Point{TimestampMs: start+0s,   AvgVoltage: mean}
//	samples[20:40] -> Point{TimestampMs: start+60s,  AvgVoltage: mean}
//	samples[40:60] -> Point{TimestampMs: start+120s, AvgVoltage: mean}
//
// A record whose sample count is not a multiple of 20 is rejected. Truncating
// it would shift every later timestamp.
//
// # Series
//
// BuildSeries flattens any number of records (unordered, possibly overlapping)
// into one ascending Series. When two points share a timestamp the one coming
// from the record later in the input wins.
//
// All functions in this package are pure. Callers recompute the series from
// scratch whenever a new query result arrives.
package telemetry

package telemetry

import "sort"

// Series is an ascending sequence of points with unique timestamps.
type Series []Point

// Span returns the first and last timestamps. ok is false for an empty series.
func (s Series) Span() (min, max int64, ok bool) {
	if len(s) == 0 {
		return 0, 0, false
	}
	return s[0].TimestampMs, s[len(s)-1].TimestampMs, true
}

// BuildSeries expands every record and merges the points into one ascending
// series. Points sharing a timestamp are resolved in favour of the record
// appearing later in records. A single malformed record fails the build.
func BuildSeries(records []Record) (Series, error) {
	byTimestamp := make(map[int64]Point)

	for i := range records {
		points, err := Expand(&records[i])
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			byTimestamp[p.TimestampMs] = p
		}
	}

	series := make(Series, 0, len(byTimestamp))
	for _, p := range byTimestamp {
		series = append(series, p)
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].TimestampMs < series[j].TimestampMs
	})
	return series, nil
}

package telemetry

import "time"

// BucketSeconds is the width of one storage bucket.
const BucketSeconds = 180

// BucketRange is an inclusive range of bucket indices.
type BucketRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Empty reports whether the range contains no bucket.
func (r BucketRange) Empty() bool {
	return r.End < r.Start
}

// Contains reports whether idx lies inside the range.
func (r BucketRange) Contains(idx int64) bool {
	return idx >= r.Start && idx <= r.End
}

// ToBucketIndex returns the index of the bucket t falls into.
func ToBucketIndex(t time.Time) int64 {
	return floorDiv(t.Unix(), BucketSeconds)
}

// BucketStartEpochSeconds returns the first second covered by bucket idx.
// It is not an inverse of ToBucketIndex: it aligns to the bucket start.
func BucketStartEpochSeconds(idx int64) int64 {
	return idx * BucketSeconds
}

// BucketStart returns the start of bucket idx as a time.
func BucketStart(idx int64) time.Time {
	return time.Unix(BucketStartEpochSeconds(idx), 0)
}

// QueryRange converts a user-selected [start, end] window into the bucket
// range sent to the store. The end bucket is excluded so the end instant
// stays outside the returned window.
func QueryRange(start, end time.Time) BucketRange {
	return BucketRange{
		Start: ToBucketIndex(start),
		End:   ToBucketIndex(end) - 1,
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

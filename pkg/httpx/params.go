package httpx

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/battmon/pkg/telemetry"
)

// LocalInputLayout is the minute-precision form sent by datetime pickers.
const LocalInputLayout = "2006-01-02T15:04"

// ErrMissingParam is returned when a required query parameter is absent.
var ErrMissingParam = errors.New("missing parameter")

// ParseInstant parses RFC3339, LocalInputLayout (read in loc) or epoch
// seconds. A nil loc means UTC.
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(LocalInputLayout, s, loc); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339, %s or epoch seconds", s, LocalInputLayout)
}

// TimeRangeParams reads start and end. A missing end is now and a missing
// start is end minus defaultWindow. End before start is an error.
func TimeRangeParams(q url.Values, loc *time.Location, now time.Time, defaultWindow time.Duration) (start, end time.Time, err error) {
	end = now
	if v := q.Get("end"); v != "" {
		if end, err = ParseInstant(v, loc); err != nil {
			return start, end, fmt.Errorf("end: %w", err)
		}
	}
	start = end.Add(-defaultWindow)
	if v := q.Get("start"); v != "" {
		if start, err = ParseInstant(v, loc); err != nil {
			return start, end, fmt.Errorf("start: %w", err)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start, end, nil
}

// Int64Param parses a required integer parameter.
func Int64Param(q url.Values, name string) (int64, error) {
	v := q.Get(name)
	if v == "" {
		return 0, fmt.Errorf("%w: %s", ErrMissingParam, name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	return n, nil
}

// BucketRangeParams reads an inclusive start/end bucket index range.
func BucketRangeParams(q url.Values) (telemetry.BucketRange, error) {
	start, err := Int64Param(q, "start")
	if err != nil {
		return telemetry.BucketRange{}, err
	}
	end, err := Int64Param(q, "end")
	if err != nil {
		return telemetry.BucketRange{}, err
	}
	return telemetry.BucketRange{Start: start, End: end}, nil
}

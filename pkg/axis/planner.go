// Package axis decides how the time axis of a series chart is ticked and labelled.
package axis

import (
	"time"

	"github.com/nicktill/battmon/pkg/telemetry"
)

// Mode selects the tick strategy.
type Mode string

const (
	// ModeIntraday lets the chart pick its own tick spacing and labels hours.
	ModeIntraday Mode = "intraday"
	// ModeMultiDay ticks at local midnights and labels dates.
	ModeMultiDay Mode = "multi_day"
)

// Label layouts (Go reference time).
const (
	IntradayLayout = "15:04"
	MultiDayLayout = "06/01/02"
	TooltipLayout  = "2006/01/02 15:04"
)

// IntradaySpan is the longest span still drawn in intraday mode.
const IntradaySpan = 24 * time.Hour

// Plan is the axis layout for one series.
type Plan struct {
	Mode          Mode    `json:"mode"`
	Min           int64   `json:"min"`
	Max           int64   `json:"max"`
	Ticks         []int64 `json:"ticks,omitempty"`
	TickLayout    string  `json:"tick_layout"`
	TooltipLayout string  `json:"tooltip_layout"`
}

// PlanSeries plans the axis for a series. ok is false when the series is empty
// and no chart should be drawn.
func PlanSeries(series telemetry.Series, loc *time.Location) (Plan, bool) {
	min, max, ok := series.Span()
	if !ok {
		return Plan{}, false
	}
	return PlanSpan(min, max, loc), true
}

// PlanSpan plans the axis for the span [minMs, maxMs] in epoch milliseconds.
// Midnights are taken in loc; nil means UTC.
func PlanSpan(minMs, maxMs int64, loc *time.Location) Plan {
	if loc == nil {
		loc = time.UTC
	}

	if maxMs-minMs <= IntradaySpan.Milliseconds() {
		return Plan{
			Mode:          ModeIntraday,
			Min:           minMs,
			Max:           maxMs,
			TickLayout:    IntradayLayout,
			TooltipLayout: TooltipLayout,
		}
	}

	return Plan{
		Mode:          ModeMultiDay,
		Min:           minMs,
		Max:           maxMs,
		Ticks:         MidnightTicks(minMs, maxMs, loc),
		TickLayout:    MultiDayLayout,
		TooltipLayout: TooltipLayout,
	}
}

// MidnightTicks lists every local midnight in [minMs, maxMs].
func MidnightTicks(minMs, maxMs int64, loc *time.Location) []int64 {
	first := time.UnixMilli(minMs).In(loc)
	day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	if day.UnixMilli() < minMs {
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	}

	var ticks []int64
	for day.UnixMilli() <= maxMs {
		ticks = append(ticks, day.UnixMilli())
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	}
	return ticks
}

// Label formats a tick or point timestamp with the given layout in loc.
func Label(ms int64, layout string, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc).Format(layout)
}

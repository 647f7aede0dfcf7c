package dashboard

import (
	"errors"
	"io"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/nicktill/battmon/pkg/axis"
	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/telemetry"
)

// ErrNoData is returned when there is nothing to draw.
var ErrNoData = errors.New("no data")

// ChartOptions sizes the rendered chart. Zero values use the defaults.
type ChartOptions struct {
	Width  int
	Height int
	Title  string
}

func (o ChartOptions) size() (int, int) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = config.DefaultChartWidth
	}
	if h <= 0 {
		h = config.DefaultChartHeight
	}
	if w > config.MaxChartDimension {
		w = config.MaxChartDimension
	}
	if h > config.MaxChartDimension {
		h = config.MaxChartDimension
	}
	return w, h
}

// RenderChart draws average voltage, and temperature on the secondary axis
// when present, as a PNG. Ticks follow the axis plan: clock labels for
// intraday spans, one labelled tick per local midnight otherwise.
func RenderChart(w io.Writer, series telemetry.Series, plan *axis.Plan, loc *time.Location, opts ChartOptions) error {
	if len(series) == 0 || plan == nil {
		return ErrNoData
	}
	if loc == nil {
		loc = time.UTC
	}

	times := make([]time.Time, len(series))
	volts := make([]float64, len(series))
	var tempTimes []time.Time
	var temps []float64
	for i, p := range series {
		times[i] = time.UnixMilli(p.TimestampMs)
		volts[i] = p.AvgVoltage
		if p.Temperature != nil {
			tempTimes = append(tempTimes, times[i])
			temps = append(temps, *p.Temperature)
		}
	}

	width, height := opts.size()
	graph := chart.Chart{
		Title:  opts.Title,
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 24, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis: xAxis(plan, loc),
		YAxis: chart.YAxis{Name: "V"},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Avg voltage",
				XValues: times,
				YValues: volts,
				Style: chart.Style{
					StrokeColor: chart.ColorBlue,
					StrokeWidth: 2,
					DotWidth:    dotWidth(len(series)),
					DotColor:    chart.ColorBlue,
				},
			},
		},
	}

	if len(temps) > 0 {
		graph.YAxisSecondary = chart.YAxis{Name: "°C"}
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Temperature",
			YAxis:   chart.YAxisSecondary,
			XValues: tempTimes,
			YValues: temps,
			Style: chart.Style{
				StrokeColor: drawing.ColorFromHex("e4572e"),
				StrokeWidth: 1,
			},
		})
	}

	graph.YAxis.Range = paddedRange(volts)
	if len(temps) > 0 {
		graph.YAxisSecondary.Range = paddedRange(temps)
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

// xAxis keeps a non-zero range for single-point series.
func xAxis(plan *axis.Plan, loc *time.Location) chart.XAxis {
	minT := time.UnixMilli(plan.Min)
	maxT := time.UnixMilli(plan.Max)
	if !maxT.After(minT) {
		maxT = minT.Add(time.Duration(telemetry.SubwindowDurationMs) * time.Millisecond)
	}

	xa := chart.XAxis{
		Range: &chart.ContinuousRange{
			Min: chart.TimeToFloat64(minT),
			Max: chart.TimeToFloat64(maxT),
		},
		ValueFormatter: func(v interface{}) string {
			if f, ok := v.(float64); ok {
				return axis.Label(chart.TimeFromFloat64(f).UnixMilli(), plan.TickLayout, loc)
			}
			return ""
		},
	}

	if plan.Mode == axis.ModeMultiDay && len(plan.Ticks) > 0 {
		ticks := make([]chart.Tick, len(plan.Ticks))
		for i, ms := range plan.Ticks {
			ticks[i] = chart.Tick{
				Value: chart.TimeToFloat64(time.UnixMilli(ms)),
				Label: axis.Label(ms, plan.TickLayout, loc),
			}
		}
		xa.Ticks = ticks
	}
	return xa
}

func paddedRange(values []float64) *chart.ContinuousRange {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = 0.1
	}
	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}

// dots only for sparse series
func dotWidth(n int) float64 {
	if n <= 60 {
		return 3
	}
	return 0
}

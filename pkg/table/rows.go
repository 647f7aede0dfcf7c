// Package table projects a series into sortable, windowed table rows.
package table

import (
	"sort"
	"time"

	"github.com/nicktill/battmon/pkg/telemetry"
)

// Window is the span shown before the user expands the table.
const Window = 18 * time.Minute

// Row is one table line: a point plus its raw sub-window and the fields
// shared by all rows of the same record.
type Row struct {
	TimestampMs int64     `json:"timestamp"`
	BucketIndex int64     `json:"sequence_number"`
	GatewayID   string    `json:"gateway_id,omitempty"`
	RSSI        *float64  `json:"rssi"`
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	AvgVoltage  float64   `json:"avgVoltage"`
	Samples     []float64 `json:"voltages"`

	// GroupSize is the number of rows expanded from the same record and
	// GroupIndex the chronological position of this row inside that group.
	// Renderers print shared fields once per group (row spanning).
	GroupSize  int `json:"group_size"`
	GroupIndex int `json:"group_index"`
}

// SpansGroup reports whether this row renders the shared per-record fields.
func (r Row) SpansGroup() bool {
	return r.GroupIndex == 0
}

// BuildRows turns an ascending series into rows with group metadata.
func BuildRows(series telemetry.Series) []Row {
	rows := make([]Row, len(series))
	groups := make(map[*telemetry.Record][]int)

	for i, p := range series {
		row := Row{
			TimestampMs: p.TimestampMs,
			Temperature: p.Temperature,
			Humidity:    p.Humidity,
			AvgVoltage:  p.AvgVoltage,
			Samples:     p.Samples(),
			GroupSize:   1,
		}
		if rec := p.Record(); rec != nil {
			row.BucketIndex = rec.BucketIndex
			row.GatewayID = rec.GatewayID
			row.RSSI = rec.RSSI
			groups[rec] = append(groups[rec], i)
		}
		rows[i] = row
	}

	// series is ascending, so member order is chronological
	for _, members := range groups {
		for pos, i := range members {
			rows[i].GroupSize = len(members)
			rows[i].GroupIndex = pos
		}
	}
	return rows
}

// SortRows returns a copy of rows stably sorted by timestamp.
func SortRows(rows []Row, ascending bool) []Row {
	sorted := append([]Row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if ascending {
			return sorted[i].TimestampMs < sorted[j].TimestampMs
		}
		return sorted[i].TimestampMs > sorted[j].TimestampMs
	})
	return sorted
}

// VisibleRows applies the bounded window. With showAll every row is returned.
// Otherwise an ascending table shows [min, min+Window) and a descending one
// shows (max-Window, max]. Row order is preserved.
func VisibleRows(sorted []Row, showAll, ascending bool) []Row {
	if showAll || len(sorted) == 0 {
		return sorted
	}

	min, max := sorted[0].TimestampMs, sorted[0].TimestampMs
	for _, r := range sorted[1:] {
		if r.TimestampMs < min {
			min = r.TimestampMs
		}
		if r.TimestampMs > max {
			max = r.TimestampMs
		}
	}

	window := Window.Milliseconds()
	visible := make([]Row, 0, len(sorted))
	for _, r := range sorted {
		var in bool
		if ascending {
			in = r.TimestampMs >= min && r.TimestampMs < min+window
		} else {
			in = r.TimestampMs > max-window && r.TimestampMs <= max
		}
		if in {
			visible = append(visible, r)
		}
	}
	return visible
}

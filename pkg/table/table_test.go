package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/battmon/pkg/telemetry"
)

// hourOfRecords returns 20 consecutive three-minute records (one hour of points).
func hourOfRecords(t *testing.T) telemetry.Series {
	t.Helper()
	records := make([]telemetry.Record, 0, 20)
	for i := 0; i < 20; i++ {
		samples := make([]float64, 60)
		for j := range samples {
			samples[j] = 3.0 + float64(i)/100
		}
		records = append(records, telemetry.Record{
			DeviceID:    "device-abc",
			GatewayID:   "gw-001",
			BucketIndex: 9520700 + int64(i),
			RSSI:        telemetry.Float(-60 - float64(i)),
			Samples:     samples,
		})
	}
	series, err := telemetry.BuildSeries(records)
	require.NoError(t, err)
	require.Len(t, series, 60)
	return series
}

func TestBuildRows_GroupMetadata(t *testing.T) {
	rows := BuildRows(hourOfRecords(t))
	require.Len(t, rows, 60)

	for i, r := range rows {
		assert.Equal(t, 3, r.GroupSize)
		assert.Equal(t, i%3, r.GroupIndex)
		assert.Equal(t, i%3 == 0, r.SpansGroup())
		assert.Len(t, r.Samples, telemetry.SubwindowSize)
		assert.Equal(t, "gw-001", r.GatewayID)
		assert.Equal(t, 9520700+int64(i/3), r.BucketIndex)
	}
}

func TestBuildRows_PartialGroupAfterMerge(t *testing.T) {
	long := telemetry.Record{BucketIndex: 10, Samples: make([]float64, 80)} // spills into bucket 11
	next := telemetry.Record{BucketIndex: 11, Samples: make([]float64, 60)}

	series, err := telemetry.BuildSeries([]telemetry.Record{long, next})
	require.NoError(t, err)

	rows := BuildRows(series)
	require.Len(t, rows, 6)
	// the fourth minute of "long" collides with the first of "next" and loses
	for _, r := range rows {
		assert.Equal(t, 3, r.GroupSize)
	}
	assert.Equal(t, int64(11), rows[3].BucketIndex)
	assert.Equal(t, 0, rows[3].GroupIndex)
}

func TestSortRows_Stable(t *testing.T) {
	rows := []Row{
		{TimestampMs: 2, GroupIndex: 0},
		{TimestampMs: 1, GroupIndex: 1},
		{TimestampMs: 2, GroupIndex: 2},
		{TimestampMs: 3, GroupIndex: 3},
	}

	asc := SortRows(rows, true)
	assert.Equal(t, []int{1, 0, 2, 3}, groupIndexes(asc))

	desc := SortRows(rows, false)
	assert.Equal(t, []int{3, 0, 2, 1}, groupIndexes(desc))

	assert.Equal(t, int64(2), rows[0].TimestampMs, "input is not modified")
}

func groupIndexes(rows []Row) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.GroupIndex
	}
	return out
}

func TestVisibleRows_Ascending(t *testing.T) {
	rows := SortRows(BuildRows(hourOfRecords(t)), true)
	min := rows[0].TimestampMs

	visible := VisibleRows(rows, false, true)
	require.Len(t, visible, 18)
	for _, r := range visible {
		assert.GreaterOrEqual(t, r.TimestampMs, min)
		assert.Less(t, r.TimestampMs, min+Window.Milliseconds())
	}
	assert.Equal(t, min, visible[0].TimestampMs)
}

func TestVisibleRows_Descending(t *testing.T) {
	rows := SortRows(BuildRows(hourOfRecords(t)), false)
	max := rows[0].TimestampMs

	visible := VisibleRows(rows, false, false)
	require.Len(t, visible, 18)
	for _, r := range visible {
		assert.Greater(t, r.TimestampMs, max-Window.Milliseconds())
		assert.LessOrEqual(t, r.TimestampMs, max)
	}
	assert.Equal(t, max, visible[0].TimestampMs)
}

func TestVisibleRows_ShowAllAndEmpty(t *testing.T) {
	rows := SortRows(BuildRows(hourOfRecords(t)), true)
	assert.Len(t, VisibleRows(rows, true, true), 60)
	assert.Empty(t, VisibleRows(nil, false, true))
}

func TestWindower_ToggleResetsShowAll(t *testing.T) {
	w := NewWindower(true)
	w.Load(hourOfRecords(t))

	assert.Len(t, w.Rows(), 18)
	w.ShowAll()
	assert.True(t, w.ShowingAll())
	assert.Len(t, w.Rows(), 60)

	w.ToggleSort()
	assert.False(t, w.Ascending())
	assert.False(t, w.ShowingAll())
	assert.Len(t, w.Rows(), 18)

	w.ShowAll()
	w.SetAscending(false)
	assert.True(t, w.ShowingAll(), "setting the same direction keeps the expansion")
}

func TestWindower_Reveal(t *testing.T) {
	series := hourOfRecords(t)
	w := NewWindower(true)
	w.Load(series)

	target := series[45].TimestampMs
	found := false
	for _, r := range w.Rows() {
		if r.TimestampMs == target {
			found = true
		}
	}
	require.False(t, found, "target starts outside the bounded window")

	idx, ok := w.Reveal(target)
	require.True(t, ok)
	assert.True(t, w.ShowingAll())
	assert.Equal(t, 45, idx)
	assert.Equal(t, target, w.Rows()[idx].TimestampMs)

	_, ok = w.Reveal(target + 1)
	assert.False(t, ok)
}

func TestWindower_LoadRecomputes(t *testing.T) {
	w := NewWindower(false)
	w.Load(hourOfRecords(t))
	assert.Equal(t, 60, w.Total())

	w.Load(nil)
	assert.Equal(t, 0, w.Total())
	assert.Empty(t, w.Rows())
}

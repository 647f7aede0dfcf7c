package table

import "github.com/nicktill/battmon/pkg/telemetry"

// Windower holds the table view state for one render pass.
type Windower struct {
	ascending bool
	showAll   bool
	rows      []Row
}

// NewWindower creates a windower with the persisted sort direction. The table
// always starts bounded.
func NewWindower(ascending bool) *Windower {
	return &Windower{ascending: ascending}
}

// Load replaces the rows with a fresh projection of series. Nothing from the
// previous load is kept.
func (w *Windower) Load(series telemetry.Series) {
	w.rows = BuildRows(series)
}

// Ascending returns the current sort direction.
func (w *Windower) Ascending() bool { return w.ascending }

// ShowingAll reports whether the window is expanded.
func (w *Windower) ShowingAll() bool { return w.showAll }

// SetAscending changes the sort direction. Any change collapses the table
// back to the bounded window.
func (w *Windower) SetAscending(ascending bool) {
	if ascending != w.ascending {
		w.ascending = ascending
		w.showAll = false
	}
}

// ToggleSort flips the sort direction and collapses the table.
func (w *Windower) ToggleSort() {
	w.SetAscending(!w.ascending)
}

// ShowAll expands the table to every row.
func (w *Windower) ShowAll() {
	w.showAll = true
}

// Rows returns the sorted, windowed rows.
func (w *Windower) Rows() []Row {
	return VisibleRows(SortRows(w.rows, w.ascending), w.showAll, w.ascending)
}

// Total returns the number of rows regardless of windowing.
func (w *Windower) Total() int {
	return len(w.rows)
}

// Reveal expands the table and returns the index of the row at timestampMs
// within Rows(). ok is false if no row has that timestamp.
func (w *Windower) Reveal(timestampMs int64) (int, bool) {
	w.showAll = true
	for i, r := range w.Rows() {
		if r.TimestampMs == timestampMs {
			return i, true
		}
	}
	return -1, false
}

package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nicktill/battmon/pkg/axis"
	"github.com/nicktill/battmon/pkg/table"
)

const readingsSheet = "Readings"

// XLSXHeader is the header row of the readings sheet.
var XLSXHeader = []string{
	"Time", "Sequence", "Gateway", "RSSI",
	"Temperature", "Humidity", "Avg Voltage", "Samples",
}

// shared columns (B-D) hold per-record values and are merged across a group
var sharedColumns = []string{"B", "C", "D"}

// WriteRowsXLSX writes table rows to a workbook. Per-record fields are
// merged vertically across the rows expanded from the same record.
func WriteRowsXLSX(w io.Writer, deviceID string, rows []table.Row, loc *time.Location) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(readingsSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	centered, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Vertical: "center"},
	})
	if err != nil {
		return err
	}

	for i, h := range XLSXHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(readingsSheet, cell, h); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(readingsSheet, "A1", "H1", headerStyle); err != nil {
		return err
	}

	for i, r := range rows {
		line := i + 2
		values := []interface{}{
			axis.Label(r.TimestampMs, axis.TooltipLayout, loc),
			r.BucketIndex,
			r.GatewayID,
			optional(r.RSSI),
			optional(r.Temperature),
			optional(r.Humidity),
			r.AvgVoltage,
			joinSamples(r.Samples),
		}
		cell, _ := excelize.CoordinatesToCellName(1, line)
		if err := f.SetSheetRow(readingsSheet, cell, &values); err != nil {
			return err
		}
	}

	for _, run := range groupRuns(rows) {
		if run.end == run.start {
			continue
		}
		for _, col := range sharedColumns {
			top := fmt.Sprintf("%s%d", col, run.start+2)
			bottom := fmt.Sprintf("%s%d", col, run.end+2)
			if err := f.MergeCell(readingsSheet, top, bottom); err != nil {
				return err
			}
			if err := f.SetCellStyle(readingsSheet, top, bottom, centered); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(readingsSheet, "A", "A", 18); err != nil {
		return err
	}
	if err := f.SetColWidth(readingsSheet, "H", "H", 60); err != nil {
		return err
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: deviceID}); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}

type run struct{ start, end int }

// groupRuns finds maximal runs of adjacent rows from the same record.
func groupRuns(rows []table.Row) []run {
	var runs []run
	for i := 0; i < len(rows); {
		j := i
		for j+1 < len(rows) && sameRecord(rows[i], rows[j+1]) {
			j++
		}
		runs = append(runs, run{i, j})
		i = j + 1
	}
	return runs
}

func sameRecord(a, b table.Row) bool {
	return a.BucketIndex == b.BucketIndex && a.GatewayID == b.GatewayID && a.GroupSize == b.GroupSize && a.GroupSize > 1
}

func optional(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

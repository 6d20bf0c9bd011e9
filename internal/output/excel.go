// internal/output/excel.go
package output

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet  = "Summary"
	attemptsSheet = "Attempts"
)

// StatsRow is one line of the per-method statistics report.
type StatsRow struct {
	Method             string
	TotalRequests      int64
	SuccessfulRequests int64
	SuccessRate        float64
	AvgResponseTime    time.Duration
	AvgResultCount     float64
	LastUsed           time.Time
	Blocked            bool
	BlockedUntil       time.Time
	CurrentDelay       time.Duration
}

var summaryHeaders = []string{
	"Method", "Total", "Successful", "Success rate", "Avg response (s)",
	"Avg results", "Last used", "Blocked", "Blocked until", "Current delay (s)",
}

var attemptHeaders = []string{
	"Time", "Method", "Query", "Results", "Response (s)", "Success", "Error",
}

// StatsWorkbook renders a statistics report as an XLSX workbook.
type StatsWorkbook struct {
	file        *excelize.File
	headerStyle int
	numberStyle int
	dateStyle   int
}

// NewStatsWorkbook builds the Summary and Attempts sheets.
func NewStatsWorkbook(rows []StatsRow, recent []UsageRecord) (*StatsWorkbook, error) {
	f := excelize.NewFile()
	wb := &StatsWorkbook{file: f}
	if err := wb.createStyles(); err != nil {
		f.Close()
		return nil, err
	}

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(attemptsSheet); err != nil {
		f.Close()
		return nil, err
	}

	if err := wb.writeSummary(rows); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write summary sheet: %w", err)
	}
	if err := wb.writeAttempts(recent); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write attempts sheet: %w", err)
	}
	f.SetActiveSheet(0)
	return wb, nil
}

func (wb *StatsWorkbook) createStyles() error {
	var err error
	wb.headerStyle, err = wb.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 12},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return err
	}
	// 2 decimal places
	if wb.numberStyle, err = wb.file.NewStyle(&excelize.Style{NumFmt: 2}); err != nil {
		return err
	}
	wb.dateStyle, err = wb.file.NewStyle(&excelize.Style{NumFmt: 22})
	return err
}

func (wb *StatsWorkbook) writeHeaders(sheet string, headers []string) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := wb.file.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := wb.file.SetCellStyle(sheet, "A1", last, wb.headerStyle); err != nil {
		return err
	}
	if err := wb.file.SetColWidth(sheet, "A", columnName(len(headers)), 16); err != nil {
		return err
	}
	return wb.file.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func (wb *StatsWorkbook) writeSummary(rows []StatsRow) error {
	if err := wb.writeHeaders(summarySheet, summaryHeaders); err != nil {
		return err
	}
	for i, r := range rows {
		values := []interface{}{
			r.Method,
			r.TotalRequests,
			r.SuccessfulRequests,
			r.SuccessRate,
			r.AvgResponseTime.Seconds(),
			r.AvgResultCount,
			optionalTime(r.LastUsed),
			r.Blocked,
			optionalTime(r.BlockedUntil),
			r.CurrentDelay.Seconds(),
		}
		if err := wb.writeRow(summarySheet, i+2, values); err != nil {
			return err
		}
	}
	if len(rows) > 0 {
		last := fmt.Sprintf("%s%d", columnName(len(summaryHeaders)), len(rows)+1)
		return wb.file.AutoFilter(summarySheet, "A1:"+last, nil)
	}
	return nil
}

func (wb *StatsWorkbook) writeAttempts(recent []UsageRecord) error {
	if err := wb.writeHeaders(attemptsSheet, attemptHeaders); err != nil {
		return err
	}
	for i, rec := range recent {
		values := []interface{}{
			rec.CreatedAt,
			rec.Method,
			rec.Query,
			rec.ResultCount,
			rec.ResponseTime.Seconds(),
			rec.Success,
			rec.ErrorMessage,
		}
		if err := wb.writeRow(attemptsSheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func (wb *StatsWorkbook) writeRow(sheet string, row int, values []interface{}) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := wb.file.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		switch v.(type) {
		case time.Time:
			err = wb.file.SetCellStyle(sheet, cell, cell, wb.dateStyle)
		case float64:
			err = wb.file.SetCellStyle(sheet, cell, cell, wb.numberStyle)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteTo streams the workbook.
func (wb *StatsWorkbook) WriteTo(w io.Writer) (int64, error) {
	return wb.file.WriteTo(w)
}

// SaveAs writes the workbook to path.
func (wb *StatsWorkbook) SaveAs(path string) error {
	return wb.file.SaveAs(path)
}

// Close releases the workbook.
func (wb *StatsWorkbook) Close() error {
	return wb.file.Close()
}

func optionalTime(t time.Time) interface{} {
	if t.IsZero() {
		return ""
	}
	return t
}

// columnName converts a 1-based column number to its letter form (A, B, ..., AA).
func columnName(col int) string {
	name := ""
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return name
}

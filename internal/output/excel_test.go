// internal/output/excel_test.go
package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestStatsWorkbook(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []StatsRow{
		{Method: "direct", TotalRequests: 10, SuccessfulRequests: 2, SuccessRate: 0.2, AvgResponseTime: 3 * time.Second, Blocked: true, BlockedUntil: now.Add(30 * time.Minute), CurrentDelay: 30 * time.Second},
		{Method: "browser", TotalRequests: 4, SuccessfulRequests: 4, SuccessRate: 1, AvgResponseTime: 12 * time.Second, AvgResultCount: 8, LastUsed: now, CurrentDelay: time.Second},
	}
	recent := []UsageRecord{
		{ID: "1", Method: "browser", Query: "WBA2D520X05E20424", ResultCount: 8, ResponseTime: 12 * time.Second, Success: true, CreatedAt: now},
	}

	wb, err := NewStatsWorkbook(rows, recent)
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = wb.WriteTo(&buf)
	require.NoError(t, err)
	wb.Close()

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{summarySheet, attemptsSheet}, f.GetSheetList())

	cell := func(sheet, ref string) string {
		v, err := f.GetCellValue(sheet, ref)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "Method", cell(summarySheet, "A1"))
	assert.Equal(t, "browser", cell(summarySheet, "A3"))
	assert.Equal(t, "10", cell(summarySheet, "B2"))
	assert.Equal(t, "WBA2D520X05E20424", cell(attemptsSheet, "C2"))
}

func TestColumnName(t *testing.T) {
	tests := map[int]string{1: "A", 10: "J", 26: "Z", 27: "AA", 52: "AZ"}
	for in, want := range tests {
		assert.Equal(t, want, columnName(in), "columnName(%d)", in)
	}
}

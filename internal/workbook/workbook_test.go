package workbook

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/helios/internal/core"
)

func TestWriteThenRead(t *testing.T) {
	sheets := []core.Sheet{
		{
			Name:    "zone-1",
			Headers: []string{"camera_id", "camera_ip", "preset_number"},
			Rows: [][]any{
				{"cam-1", "10.0.0.1", int64(1)},
				{"cam-2", "10.0.0.2", nil},
			},
		},
		{
			Name:    "unassigned",
			Headers: []string{"camera_id", "camera_ip"},
			Rows:    [][]any{{"cam-3", "10.0.0.3"}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sheets))

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "zone-1", got[0].Name)
	assert.Equal(t, sheets[0].Headers, got[0].Headers)
	assert.Equal(t, [][]any{{"cam-1", "10.0.0.1", "1"}, {"cam-2", "10.0.0.2", ""}}, got[0].Rows)
	assert.Equal(t, "unassigned", got[1].Name)
	assert.Equal(t, [][]any{{"cam-3", "10.0.0.3"}}, got[1].Rows)
}

func TestRead_SkipsLeadingBlankRowsAndEmptySheets(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A3", "customer_id"))
	require.NoError(t, f.SetCellValue("Sheet1", "B3", "customer_name"))
	require.NoError(t, f.SetCellValue("Sheet1", "A4", "c1"))
	require.NoError(t, f.SetCellValue("Sheet1", "A6", "c2"))
	require.NoError(t, f.SetCellValue("Sheet1", "B6", "Acme"))
	_, err := f.NewSheet("Empty")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = f.WriteTo(&buf)
	require.NoError(t, err)

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"customer_id", "customer_name"}, got[0].Headers)
	assert.Equal(t, [][]any{{"c1", ""}, {"c2", "Acme"}}, got[0].Rows)
}

func TestRead_InvalidWorkbook(t *testing.T) {
	_, err := Read(strings.NewReader("not a zip"))
	assert.ErrorIs(t, err, ErrInvalidWorkbook)
}

func TestSheetName(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "zone_a", SheetName("zone/a", used))
	assert.Equal(t, "ZONE_A~2", SheetName("ZONE:A", used))
	assert.Equal(t, "Sheet", SheetName("", used))

	long := strings.Repeat("x", 40)
	first := SheetName(long, used)
	second := SheetName(long, used)
	assert.Len(t, first, MaxSheetName)
	assert.Len(t, second, MaxSheetName)
	assert.NotEqual(t, first, second)
}

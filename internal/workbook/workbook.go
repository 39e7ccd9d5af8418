// Package workbook converts between .xlsx workbooks and ingestion sheets.
package workbook

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/helios/internal/core"
)

// MaxSheetName is the longest sheet name Excel accepts.
const MaxSheetName = 31

// ErrInvalidWorkbook is returned when the input is not a readable .xlsx.
var ErrInvalidWorkbook = errors.New("invalid workbook")

// Read parses every worksheet into a core.Sheet. The first non-blank row is
// the header; rows shorter than the header are padded with empty cells
// because excelize drops trailing blanks. Sheets with no header row are
// skipped.
func Read(r io.Reader) ([]core.Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	var sheets []core.Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}

		start := 0
		for start < len(rows) && blank(rows[start]) {
			start++
		}
		if start == len(rows) {
			continue
		}

		headers := trimTrailing(rows[start])
		sheet := core.Sheet{Name: name, Headers: headers, Rows: [][]any{}}
		for _, row := range rows[start+1:] {
			if blank(row) {
				continue
			}
			cells := make([]any, max(len(row), len(headers)))
			for i := range cells {
				cells[i] = ""
				if i < len(row) {
					cells[i] = row[i]
				}
			}
			sheet.Rows = append(sheet.Rows, cells)
		}
		sheets = append(sheets, sheet)
	}
	return sheets, nil
}

// Write renders sheets as one workbook, header row in bold.
func Write(w io.Writer, sheets []core.Sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	used := make(map[string]bool)
	first := true
	for _, s := range sheets {
		name := SheetName(s.Name, used)
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
			first = false
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %q: %w", name, err)
		}

		header := make([]any, len(s.Headers))
		for i, h := range s.Headers {
			header[i] = h
		}
		if err := f.SetSheetRow(name, "A1", &header); err != nil {
			return fmt.Errorf("write header of %q: %w", name, err)
		}
		if len(s.Headers) > 0 {
			last, _ := excelize.CoordinatesToCellName(len(s.Headers), 1)
			if err := f.SetCellStyle(name, "A1", last, bold); err != nil {
				return fmt.Errorf("failed to set header style: %w", err)
			}
		}

		for i, row := range s.Rows {
			cell, _ := excelize.CoordinatesToCellName(1, i+2)
			values := row
			if err := f.SetSheetRow(name, cell, &values); err != nil {
				return fmt.Errorf("write row %d of %q: %w", i+2, name, err)
			}
		}
	}

	_, err = f.WriteTo(w)
	return err
}

// SheetName makes name a valid, unused Excel sheet name and marks it used.
func SheetName(name string, used map[string]bool) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, strings.Trim(name, "'"))
	if clean == "" {
		clean = "Sheet"
	}
	clean = clip(clean, MaxSheetName)

	candidate := clean
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		suffix := fmt.Sprintf("~%d", n)
		candidate = clip(clean, MaxSheetName-len(suffix)) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimTrailing(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}

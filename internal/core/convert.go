package core

// convert.go turns spreadsheet cells into typed column values.
//
// Payload cells arrive as JSON scalars (string, number, bool, null) or as
// strings read from a workbook. These functions handle the usual artifacts:
//   - Excel formula prefixes (="value")
//   - Thousand separators in numbers
//   - Integral floats in id columns (101.0 -> "101")
//   - Various boolean representations (yes/no, true/false, 1/0)
//
// A nil result means the cell is blank.

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ConvertCell converts a raw cell to the stored representation of ft.
func ConvertCell(raw any, ft FieldType) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return convertString(CleanCell(v), ft)
	case json.Number:
		return convertString(v.String(), ft)
	case float64:
		return convertFloat(v, ft)
	case float32:
		return convertFloat(float64(v), ft)
	case int:
		return convertFloat(float64(v), ft)
	case int64:
		if ft == FieldInt {
			return v, nil
		}
		return convertFloat(float64(v), ft)
	case bool:
		switch ft {
		case FieldBool:
			return v, nil
		case FieldText:
			return strconv.FormatBool(v), nil
		}
		return nil, fmt.Errorf("invalid %s: %v", ft, v)
	default:
		return convertString(CleanCell(fmt.Sprint(v)), ft)
	}
}

func convertString(s string, ft FieldType) (any, error) {
	if s == "" {
		return nil, nil
	}
	switch ft {
	case FieldText:
		return s, nil
	case FieldInt:
		if i, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64); err == nil {
			return i, nil
		}
		f, err := parseNumber(s)
		if err != nil {
			return nil, fmt.Errorf("invalid integer: %q", s)
		}
		i, ok := floatToInt(f)
		if !ok {
			return nil, fmt.Errorf("invalid integer: %q", s)
		}
		return i, nil
	case FieldNumeric:
		f, err := parseNumber(s)
		if err != nil {
			return nil, fmt.Errorf("invalid number: %q", s)
		}
		return f, nil
	case FieldBool:
		b, ok := parseBool(s)
		if !ok {
			return nil, fmt.Errorf("invalid bool: %q (use yes/no, true/false, or 1/0)", s)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported column type %s", ft)
}

func convertFloat(f float64, ft FieldType) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("invalid number: %v", f)
	}
	switch ft {
	case FieldText:
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case FieldInt:
		i, ok := floatToInt(f)
		if !ok {
			return nil, fmt.Errorf("invalid integer: %v", f)
		}
		return i, nil
	case FieldNumeric:
		return f, nil
	case FieldBool:
		switch f {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("invalid bool: %v", f)
	}
	return nil, fmt.Errorf("unsupported column type %s", ft)
}

func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}

// CheckLength validates a text value against the column limit.
func CheckLength(v any, spec FieldSpec) error {
	s, ok := v.(string)
	if !ok || spec.MaxLen == 0 {
		return nil
	}
	if n := utf8.RuneCountInString(s); n > spec.MaxLen {
		return fmt.Errorf("too long: %d characters (max %d)", n, spec.MaxLen)
	}
	return nil
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	// Remove leading '='
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	// Remove any surrounding quotes
	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with the replacement character.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

// floatToInt reports false for fractional values and values outside int64.
func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f >= 1<<63 || f < -1<<63 {
		return 0, false
	}
	return int64(f), true
}

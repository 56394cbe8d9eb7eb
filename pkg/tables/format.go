package tables

import (
	"fmt"
	"strconv"
	"strings"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

// formatOptionalInt writes the empty string for the null value
func formatOptionalInt(v, null int) string {
	if v == null {
		return ""
	}
	return strconv.Itoa(v)
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

func parseFloat(row Row, col string, line int) (float64, error) {
	s := strings.TrimSpace(row[col])
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("row %d: column %q: %w", line, col, err)
	}
	return v, nil
}

// parseOptionalInt reads the null value from a blank or missing cell
func parseOptionalInt(row Row, col string, null, line int) (int, error) {
	s := strings.TrimSpace(row[col])
	if s == "" {
		return null, nil
	}
	// spreadsheet tools may write integers with a trailing ".0"
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("row %d: column %q: %w", line, col, err)
	}
	return int(v), nil
}

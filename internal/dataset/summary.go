package dataset

import (
	"fmt"
	"log/slog"
	"strings"
)

// SummaryRow is one category line of a summary table
type SummaryRow struct {
	Name  string
	Files int
}

// Summarize counts files per category. Categories are short names when
// useShortName is set, dataset identifiers otherwise. Rows keep the order
// in which categories are first met while walking datasets by name.
func Summarize(fileset Fileset, useShortName bool) []SummaryRow {
	index := make(map[string]int)
	var rows []SummaryRow

	for _, name := range fileset.Names() {
		ds := fileset[name]

		key := name
		if useShortName {
			key = ds.Metadata.ShortName()
		}

		i, ok := index[key]
		if !ok {
			i = len(rows)
			index[key] = i
			rows = append(rows, SummaryRow{Name: key})
		}

		rows[i].Files += ds.Files.Len()
	}

	return rows
}

// SummaryLines renders the summary as aligned table lines, total first
func SummaryLines(fileset Fileset, useShortName bool) []string {
	rows := Summarize(fileset, useShortName)

	width := len("Category")
	total := 0
	for _, row := range rows {
		if len(row.Name) > width {
			width = len(row.Name)
		}

		total += row.Files
	}

	lines := []string{
		fmt.Sprintf("%-*s | %s", width, "Category", formatCount(total)),
		strings.Repeat("-", width) + "-+-" + strings.Repeat("-", 5),
	}

	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("%-*s | %s", width, row.Name, formatCount(row.Files)))
	}

	return lines
}

// LogSummary writes the summary table through logger
func LogSummary(logger *slog.Logger, fileset Fileset, useShortName bool) {
	logger.Info("Printing Dataset")

	for _, line := range SummaryLines(fileset, useShortName) {
		logger.Info(line)
	}
}

// formatCount adds thousands separators
func formatCount(n int) string {
	if n < 0 {
		return "-" + formatCount(-n)
	}

	s := fmt.Sprint(n)

	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}

	return s
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vaultik/vaultik/internal/logging"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
// Method form of statusf — avoids threading `quiet bool` through call chains.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)
	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}

// formatSize renders a byte count the way collection-status reports chain
// sizes, delegating to logging.Bytes so every
// human-readable size in the CLI comes from one formatting rule.
func formatSize(n int64) string {
	return logging.Bytes(n)
}

// formatTime renders t the way collection-status reports backup and
// signature timestamps, delegating to logging.RelativeTime.
func formatTime(t time.Time) string {
	return logging.RelativeTime(t)
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// timeRound is the display granularity for durations.
const timeRound = 100 * time.Millisecond

// stdoutIsTTY reports whether stdout is a terminal. Table output targets
// humans; pipelines get plain rows.
func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}

	return humanize.Bytes(uint64(bytes))
}

// formatTimestamp renders a catalog ISO-8601 timestamp compactly for
// display, falling back to the raw value when unparseable.
func formatTimestamp(ts string) string {
	if ts == "" {
		return "-"
	}

	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}

	return humanize.Time(t)
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

	writeRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
		}

		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	writeRow(headers)

	for _, row := range rows {
		writeRow(row)
	}
}

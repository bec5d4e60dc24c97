// Package listing formats the event index for the terminal.
package listing

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

const columnGap = "  "

type column struct {
	width int
	right bool
}

// formatTable aligns headers and rows by display width. A trailing
// left-aligned column is not padded.
func formatTable(headers []string, rows [][]string, rightAlignCols map[int]bool) []string {
	cols := measure(headers, rows, rightAlignCols)
	if len(cols) == 0 {
		return nil
	}
	lines := make([]string, 0, len(rows)+1)
	if len(headers) > 0 {
		lines = append(lines, renderRow(cols, headers))
	}
	for _, row := range rows {
		lines = append(lines, renderRow(cols, row))
	}
	return lines
}

func measure(headers []string, rows [][]string, rightAlignCols map[int]bool) []column {
	var cols []column
	grow := func(cells []string) {
		for i, cell := range cells {
			if i >= len(cols) {
				cols = append(cols, column{right: rightAlignCols[i]})
			}
			if w := runewidth.StringWidth(cell); w > cols[i].width {
				cols[i].width = w
			}
		}
	}
	grow(headers)
	for _, row := range rows {
		grow(row)
	}
	return cols
}

func renderRow(cols []column, cells []string) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		switch {
		case col.right:
			parts[i] = runewidth.FillLeft(cell, col.width)
		case i == len(cols)-1:
			parts[i] = cell
		default:
			parts[i] = runewidth.FillRight(cell, col.width)
		}
	}
	return strings.Join(parts, columnGap)
}

// Truncate shortens value to width display cells with a trailing ellipsis.
func Truncate(value string, width int) string {
	return runewidth.Truncate(value, width, "…")
}

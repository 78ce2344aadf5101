package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

type borderChars struct {
	topLeft, topRight, bottomLeft, bottomRight string
	horizontal, vertical                       string
	topTee, bottomTee, leftTee, rightTee       string
	cross                                      string
}

var (
	roundedBorder = borderChars{
		topLeft: "╭", topRight: "╮", bottomLeft: "╰", bottomRight: "╯",
		horizontal: "─", vertical: "│",
		topTee: "┬", bottomTee: "┴", leftTee: "├", rightTee: "┤",
		cross: "┼",
	}
	asciiBorder = borderChars{
		topLeft: "+", topRight: "+", bottomLeft: "+", bottomRight: "+",
		horizontal: "-", vertical: "|",
		topTee: "+", bottomTee: "+", leftTee: "+", rightTee: "+",
		cross: "+",
	}
)

const defaultMaxWidth = 40

func writeTable(w io.Writer, header []string, rows [][]string, opts Options) error {
	if len(header) == 0 {
		_, err := fmt.Fprintf(w, "(%d rows, no columns)\n", len(rows))
		return err
	}

	maxWidth := opts.MaxWidth
	if maxWidth <= 0 {
		maxWidth = defaultMaxWidth
	}
	bc := roundedBorder
	if opts.ASCII {
		bc = asciiBorder
	}

	header = singleLine(header)
	for i := range rows {
		rows[i] = singleLine(rows[i])
	}
	widths := computeWidths(header, rows, maxWidth)

	if err := drawHLine(w, widths, bc.topLeft, bc.horizontal, bc.topTee, bc.topRight); err != nil {
		return err
	}
	if err := drawRow(w, header, widths, bc.vertical); err != nil {
		return err
	}
	if err := drawHLine(w, widths, bc.leftTee, bc.horizontal, bc.cross, bc.rightTee); err != nil {
		return err
	}
	for _, row := range rows {
		if err := drawRow(w, row, widths, bc.vertical); err != nil {
			return err
		}
	}
	if err := drawHLine(w, widths, bc.bottomLeft, bc.horizontal, bc.bottomTee, bc.bottomRight); err != nil {
		return err
	}

	noun := "rows"
	if len(rows) == 1 {
		noun = "row"
	}
	_, err := fmt.Fprintf(w, "%d %s\n", len(rows), noun)
	return err
}

// singleLine folds line breaks and tabs so a cell never spans lines.
func singleLine(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.Map(func(r rune) rune {
			switch r {
			case '\n', '\r', '\t':
				return ' '
			}
			return r
		}, c)
	}
	return out
}

func computeWidths(header []string, rows [][]string, maxWidth int) []int {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); i < len(widths) && w > widths[i] {
				widths[i] = w
			}
		}
	}
	for i := range widths {
		if widths[i] > maxWidth {
			widths[i] = maxWidth
		}
	}
	return widths
}

func drawHLine(w io.Writer, widths []int, left, fill, mid, right string) error {
	var sb strings.Builder
	sb.WriteString(left)
	for i, width := range widths {
		sb.WriteString(strings.Repeat(fill, width+2))
		if i < len(widths)-1 {
			sb.WriteString(mid)
		}
	}
	sb.WriteString(right)
	_, err := fmt.Fprintln(w, sb.String())
	return err
}

func drawRow(w io.Writer, cells []string, widths []int, vert string) error {
	var sb strings.Builder
	sb.WriteString(vert)
	for i, width := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		sb.WriteString(" ")
		sb.WriteString(formatCell(cell, width))
		sb.WriteString(" ")
		if i < len(widths)-1 {
			sb.WriteString(vert)
		}
	}
	sb.WriteString(vert)
	_, err := fmt.Fprintln(w, sb.String())
	return err
}

func formatCell(s string, width int) string {
	if width > 0 && runewidth.StringWidth(s) > width {
		if width <= 3 {
			s = runewidth.Truncate(s, width, "")
		} else {
			s = runewidth.Truncate(s, width, "...")
		}
	}
	if pad := width - runewidth.StringWidth(s); pad > 0 {
		return s + strings.Repeat(" ", pad)
	}
	return s
}

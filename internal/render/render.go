// Package render writes a table view as a bordered text table, JSON, YAML or
// CSV, and arbitrary result documents as JSON or YAML.
package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"datagrid/internal/table"

	"gopkg.in/yaml.v3"
)

// Format selects an output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatCSV   Format = "csv"
)

// ErrUnsupported is returned when a format cannot express the value given.
var ErrUnsupported = errors.New("unsupported output format")

// ParseFormat accepts the names above, case-insensitively. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q (want table, json, yaml or csv)", ErrUnsupported, s)
	}
}

// Options controls Rows.
type Options struct {
	Format Format

	// MaxWidth truncates table cells wider than this many columns. <= 0 means 40.
	MaxWidth int

	// ASCII draws table borders with +-| instead of box-drawing characters.
	ASCII bool
}

// Rows writes rows under headers. Missing cells render as empty strings.
func Rows(w io.Writer, headers []string, rows []table.Row, opts Options) error {
	switch opts.Format {
	case FormatTable, "":
		return writeTable(w, headers, cells(headers, rows), opts)
	case FormatCSV:
		return writeCSV(w, headers, cells(headers, rows))
	case FormatJSON:
		return Encode(w, FormatJSON, flats(rows))
	case FormatYAML:
		return Encode(w, FormatYAML, flats(rows))
	default:
		return fmt.Errorf("%w: %q", ErrUnsupported, opts.Format)
	}
}

// Grid writes pre-rendered cells as a table or CSV. Structured formats are
// not supported because the cells have already lost their types.
func Grid(w io.Writer, headers []string, cells [][]string, opts Options) error {
	switch opts.Format {
	case FormatTable, "":
		return writeTable(w, headers, cells, opts)
	case FormatCSV:
		return writeCSV(w, headers, cells)
	default:
		return fmt.Errorf("%w: %q for a grid", ErrUnsupported, opts.Format)
	}
}

func cells(headers []string, rows []table.Row) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		line := make([]string, len(headers))
		for j, h := range headers {
			line[j] = r.Flat.Text(h)
		}
		out[i] = line
	}
	return out
}

func flats(rows []table.Row) []table.Flat {
	out := make([]table.Flat, len(rows))
	for i, r := range rows {
		out[i] = r.Flat
	}
	return out
}

func writeCSV(w io.Writer, headers []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Encode writes v as indented JSON or as block-style YAML. YAML output goes
// through v's JSON encoding so that ordered types (table.Flat, value.Value)
// keep their key order.
func Encode(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		n, err := yamlNode(v)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(n); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupported, format)
	}
}

func yamlNode(v any) (*yaml.Node, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	blockStyle(&doc)
	return &doc, nil
}

// blockStyle clears the flow and quoting styles JSON input leaves on every
// node; the encoder then re-quotes only the strings that need it.
func blockStyle(n *yaml.Node) {
	stack := []*yaml.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cur.Style = 0
		stack = append(stack, cur.Content...)
	}
}

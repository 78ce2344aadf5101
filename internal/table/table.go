// Package table converts parsed items into rows with a flattened view and a
// shared header list.
package table

import (
	"strings"

	"datagrid/internal/apperr"
	"datagrid/internal/parser"
	"datagrid/internal/value"
)

// WrapKey is the field name a non-mapping item is stored under.
const WrapKey = "value"

// Row pairs an item's original tree with its flattened form. Rows are never
// mutated after NewRow returns.
type Row struct {
	// Original is always a mapping.
	Original value.Value `json:"original"`
	Flat     Flat        `json:"flat"`
}

// Table is the result of Normalize.
type Table struct {
	Format  parser.Format
	Rows    []Row
	Headers []string
}

// NewRow builds the row for one parsed item. A scalar or sequence item is
// wrapped as {"value": item} so every row has a mapping original.
func NewRow(item value.Value) Row {
	orig := item
	if item.Kind() != value.KindMapping {
		orig = value.Mapping(value.Field{Key: WrapKey, Value: item})
	}
	return Row{Original: orig, Flat: Flatten(orig)}
}

// BuildRows applies NewRow to every item, preserving order.
func BuildRows(items []value.Value) []Row {
	rows := make([]Row, len(items))
	for i, it := range items {
		rows[i] = NewRow(it)
	}
	return rows
}

// CollectHeaders returns the union of flat keys across rows in first-seen order.
func CollectHeaders(rows []Row) []string {
	seen := make(map[string]struct{})
	var headers []string
	for _, r := range rows {
		for _, k := range r.Flat.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			headers = append(headers, k)
		}
	}
	return headers
}

// Normalize runs detection, parsing, row building and header collection.
// It either returns a complete table or an *apperr.Error; there is no
// partial result.
func Normalize(text string, opts parser.Options) (Table, error) {
	if strings.TrimSpace(text) == "" {
		return Table{}, apperr.New(apperr.KindEmptyInput, "no input provided")
	}

	format := parser.Detect(text)
	if format == parser.Unrecognized {
		return Table{}, apperr.New(apperr.KindUnrecognizedFormat, "")
	}

	items, err := parser.Parse(text, format, opts)
	if err != nil {
		return Table{}, err
	}

	rows := BuildRows(items)
	return Table{
		Format:  format,
		Rows:    rows,
		Headers: CollectHeaders(rows),
	}, nil
}

// Package nested decides which fields of a row hold nested structure and how
// that structure is summarized or re-tabulated when a row is expanded.
package nested

import (
	"fmt"
	"strconv"

	"datagrid/internal/table"
	"datagrid/internal/value"
)

// HasNestedFields reports whether any top-level value of original is a
// mapping or a sequence.
func HasNestedFields(original value.Value) bool {
	for _, f := range original.Fields() {
		if f.Value.IsContainer() {
			return true
		}
	}
	return false
}

// NestedFields returns the top-level fields of original whose value is a
// mapping or a sequence, in key order.
func NestedFields(original value.Value) []value.Field {
	var out []value.Field
	for _, f := range original.Fields() {
		if f.Value.IsContainer() {
			out = append(out, f)
		}
	}
	return out
}

// Summarize renders v in one short line: "[N items]" for a sequence,
// "{N fields}" for a mapping and the text form otherwise.
func Summarize(v value.Value) string {
	switch v.Kind() {
	case value.KindSequence:
		return fmt.Sprintf("[%d items]", v.Len())
	case value.KindMapping:
		return fmt.Sprintf("{%d fields}", v.Len())
	default:
		return v.Text()
	}
}

// Tabulation is a sequence of mappings laid out as a table.
type Tabulation struct {
	Headers []string      `json:"headers"`
	Rows    []value.Value `json:"rows"`
}

// Cell renders the value of header in row i. Missing keys and non-mapping
// rows render empty; nested values are summarized.
func (t Tabulation) Cell(i int, header string) string {
	if i < 0 || i >= len(t.Rows) {
		return ""
	}
	v, ok := t.Rows[i].Get(header)
	if !ok {
		return ""
	}
	return Summarize(v)
}

// Cells renders every row of t in header order.
func (t Tabulation) Cells() [][]string {
	out := make([][]string, len(t.Rows))
	for i := range t.Rows {
		line := make([]string, len(t.Headers))
		for j, h := range t.Headers {
			line[j] = t.Cell(i, h)
		}
		out[i] = line
	}
	return out
}

// TabulateArray lays out seq as a table when it is non-empty and its first
// element is a mapping. Headers are the union of keys across all mapping
// elements in first-seen order. ok is false otherwise, and callers list the
// elements through Summarize instead.
func TabulateArray(seq value.Value) (Tabulation, bool) {
	items := seq.Items()
	if len(items) == 0 || items[0].Kind() != value.KindMapping {
		return Tabulation{}, false
	}

	seen := make(map[string]struct{})
	var headers []string
	for _, it := range items {
		for _, k := range it.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			headers = append(headers, k)
		}
	}
	return Tabulation{Headers: headers, Rows: items}, true
}

// Entry is one summarized sub-entry of a mapping or sequence.
type Entry struct {
	Key     string `json:"key"`
	Summary string `json:"summary"`
}

// Entries lists the children of v with their summaries: mapping keys in
// order, or sequence indices "0".."n-1". Scalars have no entries.
func Entries(v value.Value) []Entry {
	switch v.Kind() {
	case value.KindMapping:
		out := make([]Entry, 0, v.Len())
		for _, f := range v.Fields() {
			out = append(out, Entry{Key: f.Key, Summary: Summarize(f.Value)})
		}
		return out
	case value.KindSequence:
		out := make([]Entry, 0, v.Len())
		for i, it := range v.Items() {
			out = append(out, Entry{Key: strconv.Itoa(i), Summary: Summarize(it)})
		}
		return out
	default:
		return nil
	}
}

// Field is the expanded view of one nested field.
type Field struct {
	Key     string      `json:"key"`
	Summary string      `json:"summary"`
	Entries []Entry     `json:"entries"`
	Table   *Tabulation `json:"table,omitempty"`
	Value   value.Value `json:"-"`
}

// Classification is what a row shows when expanded.
type Classification struct {
	Expandable bool    `json:"expandable"`
	Fields     []Field `json:"fields"`
}

// Describe builds the expanded view of a single value under key.
func Describe(key string, v value.Value) Field {
	fv := Field{Key: key, Summary: Summarize(v), Entries: Entries(v), Value: v}
	if tab, ok := TabulateArray(v); ok {
		fv.Table = &tab
	}
	return fv
}

// Classify expands a row: each nested field with its summary, its entries
// and, for arrays of objects, a tabulation.
func Classify(r table.Row) Classification {
	return ClassifyValue(r.Original)
}

// ClassifyValue is Classify for an arbitrary mapping, used when drilling into
// a nested field.
func ClassifyValue(original value.Value) Classification {
	fields := NestedFields(original)
	c := Classification{Expandable: len(fields) > 0, Fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		c.Fields = append(c.Fields, Describe(f.Key, f.Value))
	}
	return c
}

// Drill follows path from v through mapping keys and sequence indices.
func Drill(v value.Value, path []string) (value.Value, bool) {
	cur := v
	for _, seg := range path {
		switch cur.Kind() {
		case value.KindMapping:
			next, ok := cur.Get(seg)
			if !ok {
				return value.Value{}, false
			}
			cur = next
		case value.KindSequence:
			i, err := strconv.Atoi(seg)
			if err != nil {
				return value.Value{}, false
			}
			next, ok := cur.Index(i)
			if !ok {
				return value.Value{}, false
			}
			cur = next
		default:
			return value.Value{}, false
		}
	}
	return cur, true
}

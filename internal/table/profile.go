package table

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"datagrid/internal/value"
)

// distinctCapPerColumn bounds the memory spent on distinct counting.
const distinctCapPerColumn = 10000

// ColumnProfile holds per-column statistics.
//
// Present counts only rows where the column had a non-empty value; it is the
// denominator for the uniqueness ratio, not the table's row count.
type ColumnProfile struct {
	Name     string
	Present  int
	Distinct int
	Capped   bool
	Numeric  int // present values that parse as a float
	Kinds    map[value.Kind]int
}

// Uniqueness is Distinct/Present, or 0 when the column never had a value.
func (c ColumnProfile) Uniqueness() float64 {
	if c.Present == 0 {
		return 0
	}
	return float64(c.Distinct) / float64(c.Present)
}

// Profile summarizes a table column by column.
type Profile struct {
	Rows    int
	Columns []ColumnProfile // header order
}

// ProfileTable computes column statistics for tbl.
func ProfileTable(tbl Table) Profile {
	p := Profile{Rows: len(tbl.Rows), Columns: make([]ColumnProfile, len(tbl.Headers))}

	sets := make([]map[string]struct{}, len(tbl.Headers))
	for i, h := range tbl.Headers {
		p.Columns[i] = ColumnProfile{Name: h, Kinds: make(map[value.Kind]int)}
		sets[i] = make(map[string]struct{})
	}

	for _, r := range tbl.Rows {
		for i, h := range tbl.Headers {
			v, ok := r.Flat.Get(h)
			if !ok {
				continue
			}
			col := &p.Columns[i]
			col.Kinds[v.Kind()]++

			s := strings.TrimSpace(v.Text())
			if s == "" {
				continue
			}
			col.Present++
			if _, err := strconv.ParseFloat(s, 64); err == nil {
				col.Numeric++
			}

			if col.Capped {
				continue
			}
			sets[i][s] = struct{}{}
			if len(sets[i]) >= distinctCapPerColumn {
				col.Capped = true
				sets[i] = nil
			}
		}
	}

	for i := range p.Columns {
		if p.Columns[i].Capped {
			p.Columns[i].Distinct = distinctCapPerColumn
			continue
		}
		p.Columns[i].Distinct = len(sets[i])
	}
	return p
}

// FormatReport renders p as a tab-separated report, least unique columns first.
func FormatReport(p Profile) string {
	if p.Rows == 0 {
		return "profile: no rows"
	}

	cols := make([]ColumnProfile, 0, len(p.Columns))
	for _, c := range p.Columns {
		if c.Present > 0 {
			cols = append(cols, c)
		}
	}
	sort.SliceStable(cols, func(i, j int) bool {
		ri, rj := cols[i].Uniqueness(), cols[j].Uniqueness()
		if ri == rj {
			return cols[i].Name < cols[j].Name
		}
		return ri < rj
	})

	var b strings.Builder
	fmt.Fprintf(&b, "profile:\trows=%d\tcolumns=%d\n", p.Rows, len(p.Columns))
	fmt.Fprintf(&b, "%-24s\t%-7s\t%-7s\t%-7s\tratio\tcapped\n", "column", "unique", "rows", "numeric")
	for _, c := range cols {
		fmt.Fprintf(&b, "%-24s\t%-7d\t%-7d\t%-7d\t%.1f%%\t%t\n",
			c.Name, c.Distinct, c.Present, c.Numeric, c.Uniqueness()*100, c.Capped)
	}
	return strings.TrimRight(b.String(), "\n")
}

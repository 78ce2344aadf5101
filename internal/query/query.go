// Package query derives the visible view of a table from a search term,
// per-column filters and a sort. Run is a pure function of its inputs.
package query

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"datagrid/internal/table"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Collator orders two strings that are not both numeric.
type Collator interface {
	Compare(a, b string) int
}

// Options configures Run.
type Options struct {
	// Collator overrides locale collation. When nil, a collator for Locale is built per call.
	Collator Collator

	// Locale selects the collation rules when Collator is nil. The zero tag is the root locale.
	Locale language.Tag
}

type textCollator struct {
	c *collate.Collator
}

func (t textCollator) Compare(a, b string) int { return t.c.CompareString(a, b) }

// NewCollator returns a Collator for tag. The result must not be shared
// across goroutines.
func NewCollator(tag language.Tag, opts ...collate.Option) Collator {
	return textCollator{c: collate.New(tag, opts...)}
}

// ParseLocale parses a BCP 47 tag; "" is the root locale.
func ParseLocale(s string) (language.Tag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return language.Und, nil
	}
	return language.Parse(s)
}

// Run filters and sorts rows. Steps:
//  1. a non-empty SearchTerm keeps rows where any flat value contains it;
//  2. every non-empty column filter must be contained in that column's text;
//  3. when a sort is set, rows are stably ordered by the sort column, numerically
//     when both sides parse as numbers and by collation otherwise.
//
// Matching is case-insensitive. Missing columns read as "". The input slice
// is not modified.
func Run(rows []table.Row, s State, opts Options) []table.Row {
	folder := cases.Fold()

	search := folder.String(s.SearchTerm)
	type filter struct{ column, term string }
	var filters []filter
	for col, term := range s.ColumnFilters {
		if term == "" {
			continue
		}
		filters = append(filters, filter{column: col, term: folder.String(term)})
	}

	view := make([]table.Row, 0, len(rows))
rowLoop:
	for _, r := range rows {
		if search != "" && !rowContains(r, search, folder) {
			continue
		}
		for _, f := range filters {
			if !strings.Contains(folder.String(r.Flat.Text(f.column)), f.term) {
				continue rowLoop
			}
		}
		view = append(view, r)
	}

	if !s.sorted() {
		return view
	}

	coll := opts.Collator
	if coll == nil {
		coll = NewCollator(opts.Locale)
	}
	sortRows(view, s.SortColumn, s.SortDirection == Desc, coll)
	return view
}

func rowContains(r table.Row, term string, folder cases.Caser) bool {
	for _, k := range r.Flat.Keys() {
		if strings.Contains(folder.String(r.Flat.Text(k)), term) {
			return true
		}
	}
	return false
}

type sortKey struct {
	text    string
	num     float64
	numeric bool
}

func sortRows(view []table.Row, column string, desc bool, coll Collator) {
	keys := make([]sortKey, len(view))
	for i, r := range view {
		t := r.Flat.Text(column)
		n, ok := parseNumber(t)
		keys[i] = sortKey{text: t, num: n, numeric: ok}
	}

	idx := make([]int, len(view))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		c := compareKeys(keys[idx[i]], keys[idx[j]], coll)
		if desc {
			return c > 0
		}
		return c < 0
	})

	sorted := make([]table.Row, len(view))
	for i, k := range idx {
		sorted[i] = view[k]
	}
	copy(view, sorted)
}

// Compare orders two cell texts the way Run sorts them.
func Compare(a, b string, coll Collator) int {
	na, oka := parseNumber(a)
	nb, okb := parseNumber(b)
	return compareKeys(sortKey{a, na, oka}, sortKey{b, nb, okb}, coll)
}

func compareKeys(a, b sortKey, coll Collator) int {
	if a.numeric && b.numeric {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	}
	return coll.Compare(a.text, b.text)
}

// decimal is plain decimal float syntax. strconv.ParseFloat also accepts hex
// mantissas, underscores and inf/nan spellings; those sort as text.
var decimal = regexp.MustCompile(`^[+-]?(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][+-]?[0-9]+)?$`)

// parseNumber accepts the whole trimmed text as a decimal float. Out-of-range
// values sort as infinities.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !decimal.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}

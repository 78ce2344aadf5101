package query

import (
	"fmt"
	"strings"
)

// Direction is the sort direction of a column.
type Direction int

const (
	None Direction = iota
	Asc
	Desc
)

func (d Direction) String() string {
	switch d {
	case Asc:
		return "asc"
	case Desc:
		return "desc"
	default:
		return "none"
	}
}

// ParseDirection accepts "", "none", "asc" and "desc" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "asc", "ascending":
		return Asc, nil
	case "desc", "descending":
		return Desc, nil
	default:
		return None, fmt.Errorf("query: unknown sort direction %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// State is everything the view depends on besides the rows themselves.
// SortDirection is None exactly when SortColumn is empty.
type State struct {
	SearchTerm    string            `json:"search_term,omitempty" yaml:"search_term,omitempty"`
	ColumnFilters map[string]string `json:"column_filters,omitempty" yaml:"column_filters,omitempty"`
	SortColumn    string            `json:"sort_column,omitempty" yaml:"sort_column,omitempty"`
	SortDirection Direction         `json:"sort_direction" yaml:"sort_direction"`
}

// Valid reports whether the sort column and direction agree.
func (s State) Valid() bool {
	return (s.SortColumn == "") == (s.SortDirection == None)
}

func (s State) sorted() bool {
	return s.SortColumn != "" && s.SortDirection != None
}

// NextSort returns the state after the user activates column's sort control:
// a new column starts ascending, then the same column goes descending, then
// unsorted.
func NextSort(s State, column string) State {
	out := s
	out.ColumnFilters = cloneFilters(s.ColumnFilters)
	if column == "" {
		return out
	}
	if s.SortColumn != column {
		out.SortColumn, out.SortDirection = column, Asc
		return out
	}
	switch s.SortDirection {
	case Asc:
		out.SortDirection = Desc
	case Desc:
		out.SortColumn, out.SortDirection = "", None
	default:
		out.SortDirection = Asc
	}
	return out
}

// WithFilter returns a copy of s with column's filter set to term. An empty
// term removes the filter.
func (s State) WithFilter(column, term string) State {
	out := s
	out.ColumnFilters = cloneFilters(s.ColumnFilters)
	if term == "" {
		delete(out.ColumnFilters, column)
		return out
	}
	if out.ColumnFilters == nil {
		out.ColumnFilters = make(map[string]string)
	}
	out.ColumnFilters[column] = term
	return out
}

// Cleared resets everything: search term, column filters and sort.
func (s State) Cleared() State {
	return State{}
}

// ActiveFilters counts non-empty column filters plus one for a search term.
func (s State) ActiveFilters() int {
	n := 0
	if s.SearchTerm != "" {
		n++
	}
	for _, term := range s.ColumnFilters {
		if term != "" {
			n++
		}
	}
	return n
}

func cloneFilters(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

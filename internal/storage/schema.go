// Package storage defines the table model and backend registry that export
// writes through. Backends live in subpackages and register themselves.
package storage

// Logical column types. Each backend maps them onto its own DDL.
const (
	// TypeText holds arbitrary cell text.
	TypeText = "text"
	// TypeHash holds a 64-character hex digest and must be indexable.
	TypeHash = "hash"
)

// TableSpec describes a table to create.
type TableSpec struct {
	Name        string           `json:"name"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // TypeText or TypeHash
	Nullable *bool  `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// IsNullable reports the column's nullability; columns are nullable unless
// stated otherwise.
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}

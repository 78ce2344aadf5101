// Package export loads a normalized table into a SQL backend: one text
// column per header plus a row_hash column that makes re-export idempotent.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"datagrid/internal/logger"
	"datagrid/internal/metrics"
	"datagrid/internal/storage"
	"datagrid/internal/table"
	"datagrid/internal/value"
)

// StepExport labels the export step in datagrid_step_* metrics.
const StepExport = "export"

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 512

type Options struct {
	BatchSize int

	// KeepDuplicates appends every row. The table is created without the
	// row_hash unique constraint and nothing is skipped.
	KeepDuplicates bool
}

// Result summarizes an export.
type Result struct {
	Table    string   `json:"table"`
	Columns  []string `json:"columns"`
	Rows     int      `json:"rows"`
	Inserted int64    `json:"inserted"`
	Skipped  int64    `json:"skipped"`
}

// QualifyTable adds the backend's default schema to an unqualified name:
// "public." for postgres and "dbo." for mssql.
func QualifyTable(kind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ".") {
		return name
	}
	switch kind {
	case "postgres":
		return "public." + name
	case "mssql":
		return "dbo." + name
	default:
		return name
	}
}

// Spec returns the table definition for the given column names.
func Spec(name string, columns []string) storage.TableSpec {
	notNull := false
	cols := make([]storage.ColumnSpec, 0, len(columns)+1)
	for _, c := range columns {
		cols = append(cols, storage.ColumnSpec{Name: c, Type: storage.TypeText})
	}
	cols = append(cols, storage.ColumnSpec{Name: HashColumn, Type: storage.TypeHash, Nullable: &notNull})
	return storage.TableSpec{
		Name:        name,
		Columns:     cols,
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{HashColumn}}},
	}
}

// Cell converts a flat value into its stored form: nil for missing or null,
// compact JSON for sequences and mappings, text otherwise.
func Cell(v value.Value, ok bool) any {
	if !ok || v.IsNull() {
		return nil
	}
	if v.IsContainer() {
		b, err := json.Marshal(v)
		if err != nil {
			return v.Text()
		}
		return string(b)
	}
	return v.Text()
}

// RowHash is a SHA-256 over "name=value" pairs joined by 0x1f, in column
// order. A nil value is encoded as a single NUL byte so missing differs
// from empty.
func RowHash(columns []string, cells []any) string {
	var b strings.Builder
	b.Grow(len(columns) * 20)
	for i, c := range columns {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(c)
		b.WriteByte('=')
		s, ok := cells[i].(string)
		if !ok {
			b.WriteByte('\x00')
			continue
		}
		b.WriteString(s)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Rows builds insert rows for tbl: one cell per header followed by the row hash.
func Rows(tbl table.Table, columns []string) [][]any {
	out := make([][]any, len(tbl.Rows))
	for i, r := range tbl.Rows {
		row := make([]any, len(tbl.Headers)+1)
		for j, h := range tbl.Headers {
			row[j] = Cell(r.Flat.Get(h))
		}
		row[len(tbl.Headers)] = RowHash(columns, row[:len(tbl.Headers)])
		out[i] = row
	}
	return out
}

// Export ensures the table exists and inserts tbl's rows in batches.
// Rows already present (same row_hash) are skipped unless
// opts.KeepDuplicates is set.
func Export(ctx context.Context, repo storage.Repository, name string, tbl table.Table, opts Options) (Result, error) {
	start := time.Now()
	res, err := export(ctx, repo, name, tbl, opts)
	metrics.RecordStep(StepExport, err, time.Since(start))
	if err != nil {
		return res, err
	}
	logger.FromContext(ctx).Info("export complete",
		"table", res.Table, "rows", res.Rows, "inserted", res.Inserted, "skipped", res.Skipped,
		"elapsed", time.Since(start).Truncate(time.Millisecond))
	return res, nil
}

func export(ctx context.Context, repo storage.Repository, name string, tbl table.Table, opts Options) (Result, error) {
	if strings.TrimSpace(name) == "" {
		return Result{}, fmt.Errorf("export: table name is empty")
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	columns := ColumnNames(tbl.Headers)
	res := Result{Table: name, Columns: columns, Rows: len(tbl.Rows)}

	spec := Spec(name, columns)
	var dedupe []string
	if opts.KeepDuplicates {
		spec.Constraints = nil
	} else {
		dedupe = []string{HashColumn}
	}
	if err := repo.EnsureTable(ctx, spec); err != nil {
		return res, fmt.Errorf("export: ensure table: %w", err)
	}

	insertCols := append(append([]string(nil), columns...), HashColumn)
	rows := Rows(tbl, columns)
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		n, err := repo.InsertRows(ctx, name, insertCols, rows[start:end], dedupe)
		res.Inserted += n
		if err != nil {
			return res, fmt.Errorf("export: insert rows %d-%d: %w", start, end-1, err)
		}
	}
	res.Skipped = int64(res.Rows) - res.Inserted
	return res, nil
}

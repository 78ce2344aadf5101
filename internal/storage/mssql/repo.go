package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"datagrid/internal/storage"
)

// SQL Server accepts at most 2100 parameters per statement.
const maxParams = 2000

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Dedupe inserts use INSERT ... SELECT ... WHERE NOT EXISTS. That statement
// does not collapse duplicate keys inside its own VALUES list, so rows are
// first reduced to one per key (first occurrence wins).
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens a "sqlserver" connection for cfg.DSN and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: raw}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTable creates the table inside an OBJECT_ID guard.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	q, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", spec.Name, err)
	}
	return nil
}

func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	rows, err := storage.DedupeRows(rows, columns, dedupeColumns)
	if err != nil {
		return 0, fmt.Errorf("mssql: %w", err)
	}

	var total int64
	for _, part := range storage.SplitRows(rows, len(columns), maxParams) {
		var (
			q    string
			args []any
		)
		if len(dedupeColumns) == 0 {
			q, args = buildBulkInsertSQL(table, columns, part)
		} else {
			q, args = buildInsertNotExistsSQL(table, columns, part, dedupeColumns)
		}
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func columnType(c storage.ColumnSpec) string {
	// UNIQUE cannot cover NVARCHAR(MAX).
	if c.Type == storage.TypeHash {
		return "CHAR(64)"
	}
	return "NVARCHAR(MAX)"
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", t.Name)
	}

	parts := make([]string, 0, len(t.Columns)+len(t.Constraints))
	for _, c := range t.Columns {
		null := " NULL"
		if !c.IsNullable() {
			null = " NOT NULL"
		}
		parts = append(parts, mssqlIdent(c.Name)+" "+columnType(c)+null)
	}

	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return "", fmt.Errorf("%s unique constraint has no columns", t.Name)
		}
		cols := make([]string, len(con.Columns))
		for i, c := range con.Columns {
			cols[i] = mssqlIdent(c)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

// wrapCreateIfMissing wraps CREATE TABLE in an OBJECT_ID guard, since
// SQL Server has no CREATE TABLE IF NOT EXISTS.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

func writeColumnList(b *strings.Builder, prefix string, columns []string) {
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(prefix)
		b.WriteString(mssqlIdent(c))
	}
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	writeColumnList(&b, "", columns)
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows)
	return b.String(), args
}

// buildInsertNotExistsSQL materializes rows as a derived table v and inserts
// only those whose dedupe key is absent from the target.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	writeColumnList(&b, "", columns)
	b.WriteString(") SELECT ")
	writeColumnList(&b, "v.", columns)
	b.WriteString(" FROM (VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(") AS v(")
	writeColumnList(&b, "", columns)
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE ")
	for i, dc := range dedupeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(dc))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(dc))
	}
	b.WriteString(")")
	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name:
// "dbo.imports" -> [dbo].[imports].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// dbConn is the subset of *sql.DB this package uses; tests substitute it.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

var _ dbConn = (*sql.DB)(nil)

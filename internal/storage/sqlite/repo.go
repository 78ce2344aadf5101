package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"datagrid/internal/storage"
)

// maxParams stays under SQLite's default SQLITE_MAX_VARIABLE_NUMBER (32766).
const maxParams = 32000

// Repo implements storage.Repository for SQLite. All logical column types
// map to TEXT.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN (a file path or "file::memory:?cache=shared").
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// InsertRows uses "INSERT OR IGNORE" when dedupeColumns is set, which
// relies on a UNIQUE constraint over those columns.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	var total int64
	for _, part := range storage.SplitRows(rows, len(columns), maxParams) {
		q, args := buildInsertSQL(table, columns, part, len(dedupeColumns) > 0)
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("table %s has no columns", t.Name)
	}

	parts := make([]string, 0, len(t.Columns)+len(t.Constraints))
	for _, c := range t.Columns {
		col := sqlIdent(c.Name) + " TEXT"
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		parts = append(parts, col)
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
			cols[i] = sqlIdent(c)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func buildInsertSQL(table string, columns []string, rows [][]any, orIgnore bool) (string, []any) {
	var b strings.Builder
	if orIgnore {
		b.WriteString("INSERT OR IGNORE INTO ")
	} else {
		b.WriteString("INSERT INTO ")
	}
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}

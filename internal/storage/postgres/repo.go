package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"datagrid/internal/storage"
)

// maxParams stays under the protocol limit of 65535 bind parameters.
const maxParams = 65000

/*
Repo implements storage.Repository for Postgres on a pgx connection pool.

Dedupe inserts use INSERT ... ON CONFLICT (<cols>) DO NOTHING, which also
collapses duplicate keys inside a single VALUES list.
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool for cfg.DSN and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTable creates the schema (for qualified names) and the table.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	schemaSQL, tableSQL, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	if schemaSQL != "" {
		if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema for %s: %w", spec.Name, err)
		}
	}
	if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// InsertRows inserts rows in parameter-bounded chunks.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	var total int64
	for _, part := range storage.SplitRows(rows, len(columns), maxParams) {
		q, args := buildInsertSQL(table, columns, part, dedupeColumns)
		tag, err := r.pool.Exec(ctx, q, args...)
		if err != nil {
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// pgIdent quotes a possibly schema-qualified name ("public.rows").
func pgIdent(name string) string {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return pgx.Identifier(parts).Sanitize()
}

// splitQualifiedName splits "schema.table". Anything other than exactly one
// dot is treated as unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func columnType(c storage.ColumnSpec) string {
	if c.Type == storage.TypeHash {
		return "CHAR(64)"
	}
	return "TEXT"
}

func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", "", fmt.Errorf("table %s has no columns", t.Name)
	}

	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	defs := make([]string, 0, len(t.Columns)+len(t.Constraints))
	for _, c := range t.Columns {
		def := pgIdent(c.Name) + " " + columnType(c)
		if !c.IsNullable() {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}

	for _, con := range t.Constraints {
		if !strings.EqualFold(strings.TrimSpace(con.Kind), "unique") {
			return "", "", fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return "", "", fmt.Errorf("table %s: unique constraint requires columns", t.Name)
		}
		cols := make([]string, len(con.Columns))
		for i, c := range con.Columns {
			cols[i] = pgIdent(c)
		}
		defs = append(defs, "UNIQUE ("+strings.Join(cols, ", ")+")")
	}

	tableSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgIdent(t.Name), strings.Join(defs, ", "))
	return schemaSQL, tableSQL, nil
}

// buildInsertSQL constructs one INSERT with numbered placeholders. It is pure
// so placeholder numbering and ON CONFLICT can be tested without a database.
func buildInsertSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(dedupeColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		for i, c := range dedupeColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgIdent(c))
		}
		b.WriteString(") DO NOTHING")
	}

	b.WriteString(";")
	return b.String(), args
}

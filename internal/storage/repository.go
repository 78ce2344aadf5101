package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects and configures a backend.
//
// Edge cases:
//   - Kind must match a registered backend ("sqlite", "postgres", "mssql").
//   - DSN is passed through to the backend; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the backend-agnostic write surface used by export.
//
// Each backend implements dedupe in its own idiom: Postgres ON CONFLICT,
// SQLite OR IGNORE, SQL Server INSERT ... WHERE NOT EXISTS.
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTable creates the table and its constraints if missing.
	EnsureTable(ctx context.Context, spec TableSpec) error

	// InsertRows inserts rows aligned with columns and returns the number of
	// rows written. With dedupeColumns set, rows whose dedupe key already
	// exists (in the table or earlier in rows) are skipped.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error)
}

// Factory opens a Repository.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Backends call it from
// init(). Registering the same kind twice panics.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a Repository using the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backends in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SplitRows chunks rows so that no statement binds more than maxParams
// parameters. Each chunk holds at least one row.
func SplitRows(rows [][]any, width, maxParams int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	per := len(rows)
	if width > 0 && maxParams > 0 {
		per = maxParams / width
	}
	if per < 1 {
		per = 1
	}
	out := make([][][]any, 0, (len(rows)+per-1)/per)
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// DedupeRows keeps the first row for each distinct key over dedupeColumns,
// preserving order. Backends whose dedupe statement does not collapse
// duplicates within a single VALUES list use it before inserting.
func DedupeRows(rows [][]any, columns, dedupeColumns []string) ([][]any, error) {
	if len(dedupeColumns) == 0 {
		return rows, nil
	}
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	idx := make([]int, len(dedupeColumns))
	for i, dc := range dedupeColumns {
		p, ok := pos[dc]
		if !ok {
			return nil, fmt.Errorf("dedupe column %q not present in columns", dc)
		}
		idx[i] = p
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		key := ""
		for _, p := range idx {
			key += fmt.Sprint(r[p]) + "\x1f"
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

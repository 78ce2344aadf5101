package storage

import (
	"context"
	"strings"
	"testing"
)

type fakeRepo struct{ closed bool }

func (f *fakeRepo) Close()                                       { f.closed = true }
func (f *fakeRepo) EnsureTable(context.Context, TableSpec) error { return nil }
func (f *fakeRepo) InsertRows(_ context.Context, _ string, _ []string, rows [][]any, _ []string) (int64, error) {
	return int64(len(rows)), nil
}

func TestRegisterAndNew(t *testing.T) {
	Register("fake-test", func(ctx context.Context, cfg Config) (Repository, error) {
		if cfg.DSN != "dsn" {
			t.Fatalf("unexpected dsn %q", cfg.DSN)
		}
		return &fakeRepo{}, nil
	})

	repo, err := New(context.Background(), Config{Kind: "fake-test", DSN: "dsn"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := repo.(*fakeRepo); !ok {
		t.Fatalf("unexpected repo type %T", repo)
	}

	found := false
	for _, k := range Kinds() {
		if k == "fake-test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds() = %v, missing fake-test", Kinds())
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	_, err := New(context.Background(), Config{Kind: "nope"})
	if err == nil || !strings.Contains(err.Error(), "unsupported storage kind=nope") {
		t.Fatalf("expected unsupported kind error, got %v", err)
	}
}

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	f := func(context.Context, Config) (Repository, error) { return nil, nil }
	Register("dup-test", f)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register("dup-test", f)
}

func TestSplitRows(t *testing.T) {
	rows := make([][]any, 10)
	for i := range rows {
		rows[i] = []any{i, i}
	}

	parts := SplitRows(rows, 2, 7) // 3 rows per chunk
	if len(parts) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(parts))
	}
	if len(parts[0]) != 3 || len(parts[3]) != 1 {
		t.Fatalf("unexpected chunk sizes: %d..%d", len(parts[0]), len(parts[3]))
	}

	if got := SplitRows(rows, 100, 10); len(got) != 10 {
		t.Fatalf("width above limit must still yield one row per chunk, got %d chunks", len(got))
	}
	if got := SplitRows(nil, 2, 10); got != nil {
		t.Fatalf("expected nil for no rows")
	}
}

func TestDedupeRows_StableFirstWins(t *testing.T) {
	cols := []string{"k", "v"}
	rows := [][]any{{"a", 1}, {"b", 2}, {"a", 3}, {"c", 4}}

	got, err := DedupeRows(rows, cols, []string{"k"})
	if err != nil {
		t.Fatalf("DedupeRows: %v", err)
	}
	if len(got) != 3 || got[0][1] != 1 || got[1][0] != "b" || got[2][0] != "c" {
		t.Fatalf("unexpected result: %v", got)
	}

	if _, err := DedupeRows(rows, cols, []string{"missing"}); err == nil {
		t.Fatalf("expected error for missing dedupe column")
	}
	same, _ := DedupeRows(rows, cols, nil)
	if len(same) != len(rows) {
		t.Fatalf("no dedupe columns must return rows unchanged")
	}
}

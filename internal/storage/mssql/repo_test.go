package mssql

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"datagrid/internal/storage"
)

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type fakeDB struct {
	queries []string
	args    [][]any
	closed  bool
}

func (f *fakeDB) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, q)
	f.args = append(f.args, args)
	// Pretend every VALUES row was inserted.
	return fakeResult(strings.Count(q, "(@p")), nil
}

func (f *fakeDB) Close() error { f.closed = true; return nil }

func TestBuildCreateSQL(t *testing.T) {
	nn := false
	q, err := buildCreateSQL(storage.TableSpec{
		Name: "dbo.people",
		Columns: []storage.ColumnSpec{
			{Name: "name", Type: storage.TypeText},
			{Name: "row_hash", Type: storage.TypeHash, Nullable: &nn},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"row_hash"}}},
	})
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	want := "IF OBJECT_ID(N'dbo.people', N'U') IS NULL BEGIN CREATE TABLE [dbo].[people] " +
		"([name] NVARCHAR(MAX) NULL, [row_hash] CHAR(64) NOT NULL, UNIQUE ([row_hash])); END;"
	if q != want {
		t.Fatalf("ddl mismatch\n got: %s\nwant: %s", q, want)
	}
}

func TestBuildInsertNotExistsSQL(t *testing.T) {
	q, args := buildInsertNotExistsSQL("dbo.people", []string{"name", "row_hash"},
		[][]any{{"Ann", "h1"}}, []string{"row_hash"})

	want := "INSERT INTO [dbo].[people] ([name], [row_hash]) SELECT v.[name], v.[row_hash] " +
		"FROM (VALUES (@p1, @p2)) AS v([name], [row_hash]) " +
		"WHERE NOT EXISTS (SELECT 1 FROM [dbo].[people] t WHERE t.[row_hash] = v.[row_hash])"
	if q != want {
		t.Fatalf("sql mismatch\n got: %s\nwant: %s", q, want)
	}
	if len(args) != 2 || args[0] != "Ann" {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestInsertRows_DedupesWithinBatchAndChunks(t *testing.T) {
	db := &fakeDB{}
	r := &Repo{db: db}

	// 3 columns => 666 rows per statement under the 2000-parameter cap.
	cols := []string{"a", "b", "row_hash"}
	var rows [][]any
	for i := 0; i < 700; i++ {
		rows = append(rows, []any{"x", "y", string(rune('A'+i%26)) + strings.Repeat("z", i/26)})
	}
	rows = append(rows, rows[0]) // duplicate key, must be dropped

	n, err := r.InsertRows(context.Background(), "t", cols, rows, []string{"row_hash"})
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if n != 700 {
		t.Fatalf("expected 700 rows, got %d", n)
	}
	if len(db.queries) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(db.queries))
	}
	if len(db.args[0]) != 666*3 {
		t.Fatalf("first chunk has %d args", len(db.args[0]))
	}
	for _, q := range db.queries {
		if !strings.Contains(q, "WHERE NOT EXISTS") {
			t.Fatalf("expected dedupe insert, got %q", q)
		}
	}

	r.Close()
	if !db.closed {
		t.Fatalf("Close did not close the db")
	}
}

func TestInsertRows_MissingDedupeColumn(t *testing.T) {
	r := &Repo{db: &fakeDB{}}
	_, err := r.InsertRows(context.Background(), "t", []string{"a"}, [][]any{{1}}, []string{"missing"})
	if err == nil {
		t.Fatalf("expected error for missing dedupe column")
	}
}

func TestInsertRows_PlainBulk(t *testing.T) {
	db := &fakeDB{}
	r := &Repo{db: db}
	if _, err := r.InsertRows(context.Background(), "t", []string{"a"}, [][]any{{1}, {1}}, nil); err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if db.queries[0] != "INSERT INTO [t] ([a]) VALUES (@p1), (@p2)" {
		t.Fatalf("unexpected sql: %q", db.queries[0])
	}
}

package export

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"datagrid/internal/parser"
	"datagrid/internal/storage"
	_ "datagrid/internal/storage/sqlite"
	"datagrid/internal/table"
	"datagrid/internal/value"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnName(t *testing.T) {
	cases := map[string]string{
		"name":                  "name",
		"address.city":          "address_city",
		"  First Name ":         "first_name",
		"café.Größe":            "cafe_groe",
		"ns:tag":                "ns_tag",
		"a..b":                  "a_b",
		"@id":                   "id",
		"日本":                    "",
		strings.Repeat("x", 80): strings.Repeat("x", 63),
	}
	for in, want := range cases {
		assert.Equal(t, want, ColumnName(in), in)
	}
}

func TestColumnNamesAreDistinct(t *testing.T) {
	got := ColumnNames([]string{"a.b", "a_b", "A B", "", "日本", "row_hash", strings.Repeat("y", 70), strings.Repeat("y", 63)})
	assert.Equal(t, []string{
		"a_b", "a_b_2", "a_b_3", "column", "column_2", "row_hash_2",
		strings.Repeat("y", 63), strings.Repeat("y", 61) + "_2",
	}, got)
}

func TestCell(t *testing.T) {
	assert.Nil(t, Cell(value.Value{}, false))
	assert.Nil(t, Cell(value.Null(), true))
	assert.Equal(t, "1.50", Cell(value.Number("1.50"), true))
	assert.Equal(t, "true", Cell(value.Bool(true), true))
	assert.Equal(t, `["a",1]`, Cell(value.Sequence(value.String("a"), value.Number("1")), true))
	assert.Equal(t, `{"k":"v"}`, Cell(value.Mapping(value.Field{Key: "k", Value: value.String("v")}), true))
}

func TestRowHashDeterministicAndMissingDiffersFromEmpty(t *testing.T) {
	cols := []string{"a", "b"}
	h1 := RowHash(cols, []any{"x", ""})
	h2 := RowHash(cols, []any{"x", ""})
	h3 := RowHash(cols, []any{"x", nil})
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, h3)
	assert.NotEqual(t, h1, RowHash([]string{"a", "c"}, []any{"x", ""}))
}

func TestQualifyTable(t *testing.T) {
	assert.Equal(t, "public.rows", QualifyTable("postgres", "rows"))
	assert.Equal(t, "dbo.rows", QualifyTable("mssql", "rows"))
	assert.Equal(t, "rows", QualifyTable("sqlite", "rows"))
	assert.Equal(t, "stage.rows", QualifyTable("postgres", "stage.rows"))
}

type recordingRepo struct {
	spec    storage.TableSpec
	batches [][][]any
	cols    []string
	dedupe  []string
	seen    map[string]bool
	failAt  int
}

func (r *recordingRepo) Close() {}

func (r *recordingRepo) EnsureTable(_ context.Context, spec storage.TableSpec) error {
	r.spec = spec
	return nil
}

func (r *recordingRepo) InsertRows(_ context.Context, _ string, cols []string, rows [][]any, dedupe []string) (int64, error) {
	if r.failAt > 0 && len(r.batches)+1 == r.failAt {
		return 0, errors.New("boom")
	}
	r.batches = append(r.batches, rows)
	r.cols, r.dedupe = cols, dedupe
	var n int64
	for _, row := range rows {
		h := row[len(row)-1].(string)
		if !r.seen[h] {
			r.seen[h] = true
			n++
		}
	}
	return n, nil
}

func normalize(t *testing.T, text string) table.Table {
	t.Helper()
	tbl, err := table.Normalize(text, parser.Options{})
	require.NoError(t, err)
	return tbl
}

func TestExportBatchesAndDedupes(t *testing.T) {
	tbl := normalize(t, `[{"name":"Ann","tags":["a"]},{"name":"Bob"},{"name":"Ann","tags":["a"]}]`)
	repo := &recordingRepo{seen: map[string]bool{}}

	res, err := Export(context.Background(), repo, "people", tbl, Options{BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "tags"}, res.Columns)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, int64(2), res.Inserted)
	assert.Equal(t, int64(1), res.Skipped)

	require.Len(t, repo.batches, 2)
	assert.Len(t, repo.batches[0], 2)
	assert.Equal(t, []string{"name", "tags", "row_hash"}, repo.cols)
	assert.Equal(t, []string{"row_hash"}, repo.dedupe)
	assert.Equal(t, `["a"]`, repo.batches[0][0][1])
	assert.Nil(t, repo.batches[0][1][1])

	require.Len(t, repo.spec.Columns, 3)
	assert.Equal(t, storage.TypeHash, repo.spec.Columns[2].Type)
	assert.False(t, repo.spec.Columns[2].IsNullable())
}

func TestExportInsertError(t *testing.T) {
	tbl := normalize(t, `[{"a":1},{"a":2},{"a":3}]`)
	repo := &recordingRepo{seen: map[string]bool{}, failAt: 2}

	res, err := Export(context.Background(), repo, "t", tbl, Options{BatchSize: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert rows 2-2")
	assert.Equal(t, int64(2), res.Inserted)
}

func TestExportRejectsEmptyName(t *testing.T) {
	_, err := Export(context.Background(), &recordingRepo{seen: map[string]bool{}}, " ", table.Table{}, Options{})
	assert.Error(t, err)
}

// TestExportSQLiteIsIdempotent goes through the real SQLite backend.
func TestExportSQLiteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer repo.Close()

	tbl := normalize(t, `<people><p><name>Ann</name><city>Oslo</city></p><p><name>Bob</name></p></people>`)

	res, err := Export(ctx, repo, "people", tbl, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Inserted)

	res, err = Export(ctx, repo, "people", tbl, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Inserted)
	assert.Equal(t, int64(2), res.Skipped)
}

func TestExportKeepDuplicates(t *testing.T) {
	tbl := normalize(t, `[{"name":"Ann"},{"name":"Ann"}]`)
	repo := &recordingRepo{seen: map[string]bool{}}

	_, err := Export(context.Background(), repo, "people", tbl, Options{KeepDuplicates: true})
	require.NoError(t, err)
	assert.Nil(t, repo.dedupe)
	assert.Empty(t, repo.spec.Constraints)
	require.Len(t, repo.spec.Columns, 2)
	assert.Equal(t, HashColumn, repo.spec.Columns[1].Name)
}

func TestExportSQLiteKeepDuplicatesAppends(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer repo.Close()

	tbl := normalize(t, `[{"name":"Ann"},{"name":"Ann"},{"name":"Bob"}]`)
	opts := Options{KeepDuplicates: true}

	res, err := Export(ctx, repo, "people", tbl, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Inserted)
	assert.Equal(t, int64(0), res.Skipped)

	res, err = Export(ctx, repo, "people", tbl, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Inserted)
}

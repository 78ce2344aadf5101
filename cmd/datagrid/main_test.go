package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"datagrid/internal/metrics"
	"datagrid/internal/server"
)

// testBackend is a minimal metrics backend used in tests.
type testBackend struct {
	closed bool
}

func (*testBackend) IncCounter(name string, delta float64, labels metrics.Labels)       {}
func (*testBackend) ObserveHistogram(name string, value float64, labels metrics.Labels) {}
func (*testBackend) Flush() error                                                       { return nil }
func (b *testBackend) Close() error {
	b.closed = true
	return nil
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, d deps, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	d.Stdin = strings.NewReader(stdin)
	d.Stdout = &stdout
	d.Stderr = &stderr
	code := run(context.Background(), args, d)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

const people = `[{"name":"bob","age":10},{"name":"Ann","age":9},{"name":"carl","age":100}]`

func TestParseCSVFromStdin(t *testing.T) {
	res := runCLI(t, `{"items":[{"a":1,"b":{"c":"x"}},{"a":2}]}`, deps{}, "parse", "-o", "csv")
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	if want := "a,b.c\n1,x\n2,\n"; res.stdout != want {
		t.Fatalf("stdout=%q, want %q", res.stdout, want)
	}
}

func TestParseJSONLines(t *testing.T) {
	in := "{\"a\":1}\n{\"a\":2,\"tags\":[\"x\"]}\n"

	res := runCLI(t, in, deps{}, "parse", "-o", "csv")
	if res.code != 1 || !strings.Contains(res.stderr, "invalid JSON") {
		t.Fatalf("code=%d stderr=%q, want invalid JSON", res.code, res.stderr)
	}

	res = runCLI(t, in, deps{}, "parse", "--lines", "-o", "csv")
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	if want := "a,tags\n1,\n2,x\n"; res.stdout != want {
		t.Fatalf("stdout=%q, want %q", res.stdout, want)
	}
}

func TestParseXMLFileAsTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.xml")
	doc := `<people><person><name>Ann</name><address><city>Oslo</city></address></person></people>`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	res := runCLI(t, "", deps{}, "parse", path)
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	for _, want := range []string{"name", "address.city", "Oslo", "1 row"} {
		if !strings.Contains(res.stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, res.stdout)
		}
	}
}

func TestParseReportJSON(t *testing.T) {
	res := runCLI(t, people, deps{}, "parse", "--report", "-o", "json")
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	var got struct {
		Rows    int `json:"rows"`
		Columns []struct {
			Column   string `json:"column"`
			Distinct int    `json:"distinct"`
			Numeric  int    `json:"numeric"`
		} `json:"columns"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, res.stdout)
	}
	if got.Rows != 3 || len(got.Columns) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got.Columns[1].Column != "age" || got.Columns[1].Numeric != 3 {
		t.Fatalf("age column = %+v", got.Columns[1])
	}
}

func TestQueryFilterAndSort(t *testing.T) {
	res := runCLI(t, people, deps{}, "query", "--filter", "name=A", "--sort", "age", "--desc", "-o", "csv")
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	if want := "name,age\ncarl,100\nAnn,9\n"; res.stdout != want {
		t.Fatalf("stdout=%q, want %q", res.stdout, want)
	}

	res = runCLI(t, people, deps{}, "query", "--search", "BO", "-o", "csv")
	if want := "name,age\nbob,10\n"; res.stdout != want {
		t.Fatalf("stdout=%q, want %q", res.stdout, want)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad_filter", []string{"query", "--filter", "nope"}, "want column=term"},
		{"desc_without_sort", []string{"query", "--desc"}, "--desc requires --sort"},
		{"unknown_flag", []string{"parse", "--nope"}, "unknown flag"},
		{"bad_format", []string{"parse", "-o", "xlsx"}, "unsupported output format"},
		{"row_out_of_range", []string{"inspect", "--row", "9"}, "out of range"},
		{"missing_path", []string{"inspect", "--path", "zzz"}, "not found"},
		{"export_without_dsn", []string{"export", "--backend", "sqlite"}, "--dsn is required"},
		{"export_bad_backend", []string{"export", "--backend", "oracle", "--dsn", "x"}, "want one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, people, deps{}, tt.args...)
			if res.code != 2 {
				t.Fatalf("code=%d, want 2 (stderr=%s)", res.code, res.stderr)
			}
			if !strings.Contains(res.stderr, tt.want) {
				t.Fatalf("stderr=%q, want substring %q", res.stderr, tt.want)
			}
		})
	}
}

func TestInputErrorsExitOne(t *testing.T) {
	res := runCLI(t, "hello", deps{}, "parse")
	if res.code != 1 {
		t.Fatalf("code=%d, want 1", res.code)
	}
	if !strings.Contains(res.stderr, "unable to detect data format") {
		t.Fatalf("stderr=%q", res.stderr)
	}

	res = runCLI(t, "", deps{}, "parse", filepath.Join(t.TempDir(), "missing.json"))
	if res.code != 1 {
		t.Fatalf("code=%d, want 1 (stderr=%s)", res.code, res.stderr)
	}
}

const orders = `[{"id":1,"orders":[{"sku":"a","qty":2},{"sku":"b","note":"gift"}],"meta":{"tags":["x","y"]}}]`

func TestInspectJSON(t *testing.T) {
	res := runCLI(t, orders, deps{}, "inspect", "-o", "json")
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	var got struct {
		Expandable bool `json:"expandable"`
		Fields     []struct {
			Key     string `json:"key"`
			Summary string `json:"summary"`
			Table   *struct {
				Headers []string `json:"headers"`
			} `json:"table"`
		} `json:"fields"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, res.stdout)
	}
	if !got.Expandable || len(got.Fields) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got.Fields[0].Table == nil || !slices.Equal(got.Fields[0].Table.Headers, []string{"sku", "qty", "note"}) {
		t.Fatalf("orders field = %+v", got.Fields[0])
	}
	if got.Fields[1].Summary != "{1 fields}" || got.Fields[1].Table != nil {
		t.Fatalf("meta field = %+v", got.Fields[1])
	}
}

func TestInspectTableAndPath(t *testing.T) {
	res := runCLI(t, orders, deps{}, "inspect", "--row", "0")
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	for _, want := range []string{"orders: [2 items]", "sku", "gift", "meta: {1 fields}", "tags"} {
		if !strings.Contains(res.stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, res.stdout)
		}
	}

	res = runCLI(t, orders, deps{}, "inspect", "--path", "meta.tags", "-o", "csv")
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	if want := "key,summary\n0,x\n1,y\n"; res.stdout != want {
		t.Fatalf("stdout=%q, want %q", res.stdout, want)
	}

	res = runCLI(t, orders, deps{}, "inspect", "--path", "id")
	if strings.TrimSpace(res.stdout) != "1" {
		t.Fatalf("stdout=%q, want 1", res.stdout)
	}
}

func TestExportSQLiteTwice(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "out.db")
	args := []string{"export", "--backend", "sqlite", "--dsn", dsn, "--table", "people"}

	res := runCLI(t, people, deps{}, args...)
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	if want := "exported 3 rows to people: 3 inserted, 0 already present\n"; res.stdout != want {
		t.Fatalf("stdout=%q, want %q", res.stdout, want)
	}

	res = runCLI(t, people, deps{}, append(args, "-o", "json")...)
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	var got struct {
		Inserted int `json:"inserted"`
		Skipped  int `json:"skipped"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, res.stdout)
	}
	if got.Inserted != 0 || got.Skipped != 3 {
		t.Fatalf("second export = %+v, want 0 inserted / 3 skipped", got)
	}
}

func TestExportKeepDuplicates(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "out.db")
	args := []string{"export", "--backend", "sqlite", "--dsn", dsn, "--table", "people", "--keep-duplicates"}

	for i := 0; i < 2; i++ {
		res := runCLI(t, people, deps{}, args...)
		if res.code != 0 {
			t.Fatalf("run %d: code=%d stderr=%s", i, res.code, res.stderr)
		}
		if want := "exported 3 rows to people: 3 inserted, 0 already present\n"; res.stdout != want {
			t.Fatalf("run %d: stdout=%q, want %q", i, res.stdout, want)
		}
	}
}

func TestDatadogBackendIsClosed(t *testing.T) {
	b := &testBackend{}
	var gotTags []string
	d := deps{
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			gotTags = tags
			return b, nil
		},
	}

	res := runCLI(t, people, d, "parse", "--metrics-backend", "datadog", "-o", "csv")
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	if !b.closed {
		t.Fatal("backend was not closed")
	}
	if !slices.Contains(gotTags, "command:parse") {
		t.Fatalf("tags=%v, want command:parse", gotTags)
	}
}

func TestDatadogInitFailure(t *testing.T) {
	d := deps{
		BackendFactory: func(context.Context, string, []string, time.Duration) (backendCloser, error) {
			return nil, errors.New("no api key")
		},
	}
	res := runCLI(t, people, d, "parse", "--metrics-backend", "datadog")
	if res.code != 2 {
		t.Fatalf("code=%d, want 2", res.code)
	}
	if !strings.Contains(res.stderr, "no api key") {
		t.Fatalf("stderr=%q", res.stderr)
	}
}

func TestServeUsesAddrFlag(t *testing.T) {
	var gotAddr string
	d := deps{
		Serve: func(ctx context.Context, s *server.Server, addr string, readTimeout time.Duration) error {
			if s == nil {
				t.Fatal("nil server")
			}
			gotAddr = addr
			return nil
		},
	}
	res := runCLI(t, "", d, "serve", "--addr", "127.0.0.1:9999")
	if res.code != 0 {
		t.Fatalf("code=%d stderr=%s", res.code, res.stderr)
	}
	if gotAddr != "127.0.0.1:9999" {
		t.Fatalf("addr=%q", gotAddr)
	}
}

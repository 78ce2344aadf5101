package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"datagrid/internal/export"
	"datagrid/internal/logger"
	"datagrid/internal/nested"
	"datagrid/internal/pipeline"
	"datagrid/internal/query"
	"datagrid/internal/render"
	"datagrid/internal/server"
	"datagrid/internal/storage"
	"datagrid/internal/table"

	"github.com/spf13/cobra"
)

const sourceHelp = `source is a file path, a file:// or http(s):// URL, s3://bucket/key,
or "-" for stdin (the default). HTML pages are reduced to the first embedded
JSON or XML block.`

func (a *app) load(ctx context.Context, args []string) (table.Table, error) {
	return pipeline.Load(ctx, sourceArg(args), a.env.pipeline)
}

func (a *app) renderOptions() render.Options {
	return render.Options{Format: a.env.format}
}

func (a *app) parseCommand() *cobra.Command {
	var report bool
	cmd := &cobra.Command{
		Use:   "parse [source]",
		Short: "Normalize a document and print its rows",
		Long:  sourceHelp,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := a.load(cmd.Context(), args)
			if err != nil {
				return err
			}
			if report {
				return a.writeReport(cmd.OutOrStdout(), table.ProfileTable(tbl))
			}
			return render.Rows(cmd.OutOrStdout(), tbl.Headers, tbl.Rows, a.renderOptions())
		},
	}
	cmd.Flags().BoolVar(&report, "report", false, "print a per-column profile instead of the rows")
	return cmd
}

type columnReport struct {
	Column     string  `json:"column"`
	Present    int     `json:"present"`
	Distinct   int     `json:"distinct"`
	Numeric    int     `json:"numeric"`
	Uniqueness float64 `json:"uniqueness"`
	Capped     bool    `json:"capped"`
}

func (a *app) writeReport(w io.Writer, p table.Profile) error {
	switch a.env.format {
	case render.FormatJSON, render.FormatYAML:
		cols := make([]columnReport, len(p.Columns))
		for i, c := range p.Columns {
			cols[i] = columnReport{c.Name, c.Present, c.Distinct, c.Numeric, c.Uniqueness(), c.Capped}
		}
		return render.Encode(w, a.env.format, map[string]any{"rows": p.Rows, "columns": cols})
	case render.FormatCSV:
		cells := make([][]string, len(p.Columns))
		for i, c := range p.Columns {
			cells[i] = []string{
				c.Name,
				strconv.Itoa(c.Present),
				strconv.Itoa(c.Distinct),
				strconv.Itoa(c.Numeric),
				strconv.FormatFloat(c.Uniqueness(), 'f', 4, 64),
				strconv.FormatBool(c.Capped),
			}
		}
		return render.Grid(w, []string{"column", "present", "distinct", "numeric", "uniqueness", "capped"}, cells, a.renderOptions())
	default:
		_, err := fmt.Fprintln(w, table.FormatReport(p))
		return err
	}
}

func (a *app) queryCommand() *cobra.Command {
	var (
		search  string
		filters []string
		sortCol string
		desc    bool
	)
	cmd := &cobra.Command{
		Use:   "query [source]",
		Short: "Filter and sort the rows of a document",
		Long: sourceHelp + `

--search keeps rows where any column contains the term; each --filter col=term
keeps rows whose column contains term. Matching ignores case. --sort orders
numerically when both values are numbers and by locale collation otherwise.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := query.State{SearchTerm: search}
			for _, f := range filters {
				col, term, ok := strings.Cut(f, "=")
				if !ok || strings.TrimSpace(col) == "" {
					return usagef("--filter %q: want column=term", f)
				}
				state = state.WithFilter(col, term)
			}
			switch {
			case sortCol != "" && desc:
				state.SortColumn, state.SortDirection = sortCol, query.Desc
			case sortCol != "":
				state.SortColumn, state.SortDirection = sortCol, query.Asc
			case desc:
				return usagef("--desc requires --sort")
			}

			tbl, err := a.load(cmd.Context(), args)
			if err != nil {
				return err
			}
			view := query.Run(tbl.Rows, state, query.Options{Locale: a.env.locale})
			logger.FromContext(cmd.Context()).Debug("query",
				"total", len(tbl.Rows), "matched", len(view), "active_filters", state.ActiveFilters())
			return render.Rows(cmd.OutOrStdout(), tbl.Headers, view, a.renderOptions())
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&search, "search", "s", "", "keep rows where any column contains this term")
	fl.StringArrayVarP(&filters, "filter", "f", nil, "column=term filter; repeatable")
	fl.StringVar(&sortCol, "sort", "", "column to sort by")
	fl.BoolVar(&desc, "desc", false, "sort descending")
	return cmd
}

// inspectView is the structured form of inspect's output.
type inspectView struct {
	Row        int            `json:"row"`
	Path       []string       `json:"path,omitempty"`
	Summary    string         `json:"summary"`
	Expandable bool           `json:"expandable"`
	Fields     []nested.Field `json:"fields"`
	Entries    []nested.Entry `json:"entries"`
}

func (a *app) inspectCommand() *cobra.Command {
	var (
		row  int
		path string
	)
	cmd := &cobra.Command{
		Use:   "inspect [source]",
		Short: "Show the nested fields of one row",
		Long: sourceHelp + `

--path drills into the row through mapping keys and list indices, e.g.
--path orders.0.items.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := a.load(cmd.Context(), args)
			if err != nil {
				return err
			}
			if row < 0 || row >= len(tbl.Rows) {
				return usagef("--row %d out of range (table has %d rows)", row, len(tbl.Rows))
			}

			var segs []string
			if path != "" {
				segs = strings.Split(path, ".")
			}
			v, ok := nested.Drill(tbl.Rows[row].Original, segs)
			if !ok {
				return usagef("--path %q not found in row %d", path, row)
			}

			cl := nested.ClassifyValue(v)
			view := inspectView{
				Row:        row,
				Path:       segs,
				Summary:    nested.Summarize(v),
				Expandable: cl.Expandable,
				Fields:     cl.Fields,
				Entries:    nested.Entries(v),
			}
			return a.writeInspect(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().IntVar(&row, "row", 0, "row index (0-based)")
	cmd.Flags().StringVar(&path, "path", "", "dot-separated path inside the row")
	return cmd
}

func (a *app) writeInspect(w io.Writer, view inspectView) error {
	if a.env.format == render.FormatJSON || a.env.format == render.FormatYAML {
		if view.Fields == nil {
			view.Fields = []nested.Field{}
		}
		if view.Entries == nil {
			view.Entries = []nested.Entry{}
		}
		return render.Encode(w, a.env.format, view)
	}

	opts := a.renderOptions()
	if !view.Expandable {
		if len(view.Entries) == 0 {
			_, err := fmt.Fprintln(w, view.Summary)
			return err
		}
		return render.Grid(w, []string{"key", "summary"}, entryCells(view.Entries), opts)
	}

	for i, f := range view.Fields {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", f.Key, f.Summary); err != nil {
			return err
		}
		var err error
		if f.Table != nil {
			err = render.Grid(w, f.Table.Headers, f.Table.Cells(), opts)
		} else {
			err = render.Grid(w, []string{"key", "summary"}, entryCells(f.Entries), opts)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func entryCells(entries []nested.Entry) [][]string {
	out := make([][]string, len(entries))
	for i, e := range entries {
		out[i] = []string{e.Key, e.Summary}
	}
	return out
}

func (a *app) exportCommand() *cobra.Command {
	var (
		backend   string
		dsn       string
		tableName string
		batchSize int
		keepDups  bool
	)
	cmd := &cobra.Command{
		Use:   "export [source]",
		Short: "Write the rows of a document to a SQL table",
		Long: sourceHelp + `

Every column is stored as text next to a row_hash key; rows already present
are skipped, so exporting the same document twice inserts nothing new.
--keep-duplicates creates the table without that key and appends every row.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ec := a.env.cfg.Export
			fl := cmd.Flags()
			if fl.Changed("backend") {
				ec.Backend = backend
			}
			if fl.Changed("dsn") {
				ec.DSN = dsn
			}
			if fl.Changed("table") {
				ec.Table = tableName
			}
			if fl.Changed("batch-size") {
				ec.BatchSize = batchSize
			}
			if fl.Changed("keep-duplicates") {
				ec.KeepDuplicates = keepDups
			}
			if !slices.Contains(storage.Kinds(), ec.Backend) {
				return usagef("--backend %q: want one of %v", ec.Backend, storage.Kinds())
			}
			if strings.TrimSpace(ec.DSN) == "" {
				return usagef("--dsn is required")
			}
			if ec.BatchSize <= 0 {
				return usagef("--batch-size must be > 0")
			}

			ctx := cmd.Context()
			tbl, err := a.load(ctx, args)
			if err != nil {
				return err
			}

			repo, err := storage.New(ctx, storage.Config{Kind: ec.Backend, DSN: ec.DSN})
			if err != nil {
				return fmt.Errorf("open %s: %w", ec.Backend, err)
			}
			defer repo.Close()

			res, err := export.Export(ctx, repo, export.QualifyTable(ec.Backend, ec.Table), tbl, export.Options{
				BatchSize:      ec.BatchSize,
				KeepDuplicates: ec.KeepDuplicates,
			})
			if err != nil {
				return err
			}
			return a.writeExport(cmd.OutOrStdout(), res)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&backend, "backend", "", "sqlite, postgres or mssql (default from config)")
	fl.StringVar(&dsn, "dsn", "", "database DSN or, for sqlite, a file path")
	fl.StringVar(&tableName, "table", "", "destination table, optionally schema-qualified")
	fl.IntVar(&batchSize, "batch-size", 0, "rows per insert batch")
	fl.BoolVar(&keepDups, "keep-duplicates", false, "append every row instead of skipping rows already present")
	return cmd
}

func (a *app) writeExport(w io.Writer, res export.Result) error {
	switch a.env.format {
	case render.FormatJSON, render.FormatYAML:
		return render.Encode(w, a.env.format, res)
	case render.FormatCSV:
		return render.Grid(w, []string{"table", "rows", "inserted", "skipped"}, [][]string{{
			res.Table,
			strconv.Itoa(res.Rows),
			strconv.FormatInt(res.Inserted, 10),
			strconv.FormatInt(res.Skipped, 10),
		}}, a.renderOptions())
	default:
		_, err := fmt.Fprintf(w, "exported %d rows to %s: %d inserted, %d already present\n",
			res.Rows, res.Table, res.Inserted, res.Skipped)
		return err
	}
}

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the normalize, query, classify and sort API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.deps.Serve == nil {
				return errors.New("internal error: Serve is nil")
			}
			sc := a.env.cfg.Server
			if cmd.Flags().Changed("addr") {
				sc.Addr = addr
			}
			opts, err := server.FromConfig(a.env.cfg, a.env.pipeline)
			if err != nil {
				return usageError{err}
			}
			return a.deps.Serve(cmd.Context(), server.New(opts), sc.Addr, sc.ReadTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}

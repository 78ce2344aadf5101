package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"datagrid/internal/apperr"
	"datagrid/internal/logger"
	"datagrid/internal/nested"
	xmlparser "datagrid/internal/parser/xml"
	"datagrid/internal/pipeline"
	"datagrid/internal/query"
	"datagrid/internal/table"
	"datagrid/internal/value"

	"github.com/gin-gonic/gin"
)

type errorDetail struct {
	Kind   string `json:"kind"`
	Format string `json:"format,omitempty"`
	Detail string `json:"detail"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// fail writes err as {"error":{kind,format,detail}}. apperr kinds map to
// 400/422/502; anything else is treated as a bad request.
func fail(c *gin.Context, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		c.JSON(apperr.HTTPStatus(err), errorBody{Error: errorDetail{
			Kind:   string(ae.Kind),
			Format: ae.Format,
			Detail: ae.Message(),
		}})
		return
	}
	badRequest(c, err.Error())
}

func badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "bad_request", Detail: detail}})
}

// parseOptions overrides parser settings per request.
type parseOptions struct {
	RecordPath      string `json:"record_path"`
	CollectRepeated *bool  `json:"collect_repeated"`
	JSONLines       *bool  `json:"json_lines"`
}

// input names the data: inline text or, when enabled, a source to fetch.
type input struct {
	Text    string        `json:"text"`
	Source  string        `json:"source"`
	Options *parseOptions `json:"options"`
}

type rowView struct {
	Flat       table.Flat  `json:"flat"`
	Original   value.Value `json:"original"`
	Expandable bool        `json:"expandable"`
}

func rowViews(rows []table.Row) []rowView {
	out := make([]rowView, len(rows))
	for i, r := range rows {
		out[i] = rowView{Flat: r.Flat, Original: r.Original, Expandable: nested.HasNestedFields(r.Original)}
	}
	return out
}

// bind decodes the JSON body, bounded by MaxBodyBytes.
func (s *Server) bind(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// load produces the table for in, applying per-request parse options.
func (s *Server) load(c *gin.Context, in input) (table.Table, bool) {
	opts := s.opts.Pipeline
	if in.Options != nil {
		if in.Options.RecordPath != "" {
			opts.Parse.RecordPath = in.Options.RecordPath
		}
		if in.Options.JSONLines != nil {
			opts.Parse.JSONLines = *in.Options.JSONLines
		}
		if in.Options.CollectRepeated != nil {
			opts.Parse.XMLSiblings = xmlparser.SiblingsLastWins
			if *in.Options.CollectRepeated {
				opts.Parse.XMLSiblings = xmlparser.SiblingsCollect
			}
		}
	}

	ctx := c.Request.Context()
	var (
		tbl table.Table
		err error
	)
	switch {
	case strings.TrimSpace(in.Source) != "" && in.Text == "":
		if !s.opts.AllowSources {
			c.JSON(http.StatusForbidden, errorBody{Error: errorDetail{
				Kind:   "forbidden",
				Detail: "fetching sources is disabled on this server; send text instead",
			}})
			return table.Table{}, false
		}
		if in.Source == "-" {
			badRequest(c, `source "-" (stdin) is not available over HTTP`)
			return table.Table{}, false
		}
		tbl, err = pipeline.Load(ctx, in.Source, opts)
	default:
		tbl, err = pipeline.Normalize(ctx, in.Text, opts)
	}
	if err != nil {
		logger.FromContext(ctx).Info("request input rejected", "kind", string(apperr.KindOf(err)), "error", err)
		fail(c, err)
		return table.Table{}, false
	}
	return tbl, true
}

func (s *Server) normalize(c *gin.Context) {
	var in input
	if !s.bind(c, &in) {
		return
	}
	tbl, ok := s.load(c, in)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"format":  tbl.Format.String(),
		"headers": nonNil(tbl.Headers),
		"rows":    rowViews(tbl.Rows),
	})
}

type queryRequest struct {
	input
	State  query.State `json:"state"`
	Locale string      `json:"locale"`
}

func (s *Server) query(c *gin.Context) {
	var req queryRequest
	if !s.bind(c, &req) {
		return
	}
	if !req.State.Valid() {
		badRequest(c, "state: sort_column and sort_direction must both be set or both be empty")
		return
	}
	tag := s.opts.Locale
	if req.Locale != "" {
		t, err := query.ParseLocale(req.Locale)
		if err != nil {
			badRequest(c, fmt.Sprintf("locale: %v", err))
			return
		}
		tag = t
	}

	tbl, ok := s.load(c, req.input)
	if !ok {
		return
	}
	view := query.Run(tbl.Rows, req.State, query.Options{Locale: tag})
	c.JSON(http.StatusOK, gin.H{
		"headers": nonNil(tbl.Headers),
		"total":   len(tbl.Rows),
		"count":   len(view),
		"rows":    rowViews(view),
	})
}

type classifyRequest struct {
	input
	Row  int      `json:"row"`
	Path []string `json:"path"`
}

func (s *Server) classify(c *gin.Context) {
	var req classifyRequest
	if !s.bind(c, &req) {
		return
	}
	tbl, ok := s.load(c, req.input)
	if !ok {
		return
	}
	if req.Row < 0 || req.Row >= len(tbl.Rows) {
		badRequest(c, fmt.Sprintf("row %d out of range (table has %d rows)", req.Row, len(tbl.Rows)))
		return
	}

	v, found := nested.Drill(tbl.Rows[req.Row].Original, req.Path)
	if !found {
		badRequest(c, fmt.Sprintf("path %q not found in row %d", strings.Join(req.Path, "."), req.Row))
		return
	}
	cl := nested.ClassifyValue(v)
	c.JSON(http.StatusOK, gin.H{
		"expandable": cl.Expandable,
		"summary":    nested.Summarize(v),
		"fields":     cl.Fields,
		"entries":    nonNilEntries(nested.Entries(v)),
	})
}

type sortRequest struct {
	State  query.State `json:"state"`
	Column string      `json:"column"`
}

func (s *Server) sort(c *gin.Context) {
	var req sortRequest
	if !s.bind(c, &req) {
		return
	}
	if strings.TrimSpace(req.Column) == "" {
		badRequest(c, "column is required")
		return
	}
	c.JSON(http.StatusOK, query.NextSort(req.State, req.Column))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilEntries(e []nested.Entry) []nested.Entry {
	if e == nil {
		return []nested.Entry{}
	}
	return e
}

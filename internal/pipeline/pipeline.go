// Package pipeline joins text acquisition and normalization, logging each
// step and recording step metrics. Both the CLI and the HTTP API go through it.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"datagrid/internal/config"
	"datagrid/internal/logger"
	"datagrid/internal/metrics"
	"datagrid/internal/parser"
	xmlparser "datagrid/internal/parser/xml"
	"datagrid/internal/source"
	"datagrid/internal/table"
)

// Step names used in datagrid_step_* metrics.
const (
	StepFetch     = "fetch"
	StepNormalize = "normalize"
)

// Options carries everything Load and Normalize need.
type Options struct {
	Source source.Options
	Parse  parser.Options
}

// ParseOptions maps the parse config section onto parser options.
func ParseOptions(c config.ParseConfig) parser.Options {
	siblings := xmlparser.SiblingsCollect
	if !c.CollectRepeated {
		siblings = xmlparser.SiblingsLastWins
	}
	return parser.Options{
		RecordPath:  c.RecordPath,
		XMLSiblings: siblings,
		JSONLines:   c.JSONLines,
		MaxDepth:    c.MaxDepth,
	}
}

// FromConfig builds Options from loaded configuration. stdin is used for the
// "-" source and may be nil. An S3 client is created only when an endpoint
// is configured.
func FromConfig(cfg config.Config, stdin io.Reader) (Options, error) {
	opts := Options{
		Source: source.Options{
			MaxBytes:     cfg.Source.MaxBytes,
			Timeout:      cfg.Source.Timeout,
			InsecureTLS:  cfg.Source.InsecureTLS,
			HTMLSelector: cfg.Source.HTMLSelector,
			Stdin:        stdin,
		},
		Parse: ParseOptions(cfg.Parse),
	}

	s3, err := source.NewS3Client(source.S3Config{
		Endpoint:  cfg.Source.S3.Endpoint,
		AccessKey: cfg.Source.S3.AccessKey,
		SecretKey: cfg.Source.S3.SecretKey,
		UseSSL:    cfg.Source.S3.UseSSL,
		Region:    cfg.Source.S3.Region,
	})
	if err != nil {
		return Options{}, fmt.Errorf("source s3: %w", err)
	}
	if s3 != nil {
		opts.Source.Objects = s3
	}
	return opts, nil
}

// Load fetches src and normalizes it.
func Load(ctx context.Context, src string, opts Options) (table.Table, error) {
	log := logger.FromContext(ctx)

	start := time.Now()
	text, err := source.Fetch(ctx, src, opts.Source)
	metrics.RecordStep(StepFetch, err, time.Since(start))
	if err != nil {
		log.Warn("fetch failed", "source", src, "kind", source.Classify(src).String(), "error", err)
		return table.Table{}, err
	}
	log.Debug("fetched", "source", src, "kind", source.Classify(src).String(),
		"bytes", len(text), "elapsed", time.Since(start).Truncate(time.Microsecond))

	return Normalize(ctx, text, opts)
}

// Normalize turns text into a table. The rows counter is labeled with the
// detected format.
func Normalize(ctx context.Context, text string, opts Options) (table.Table, error) {
	log := logger.FromContext(ctx)

	start := time.Now()
	tbl, err := table.Normalize(text, opts.Parse)
	metrics.RecordStep(StepNormalize, err, time.Since(start))
	if err != nil {
		log.Debug("normalize failed", "error", err)
		return table.Table{}, err
	}

	metrics.IncCounter(metrics.RowsTotal, float64(len(tbl.Rows)), metrics.Labels{"format": tbl.Format.String()})
	log.Debug("normalized", "format", tbl.Format.String(), "rows", len(tbl.Rows),
		"headers", len(tbl.Headers), "elapsed", time.Since(start).Truncate(time.Microsecond))
	return tbl, nil
}

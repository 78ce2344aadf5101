// Command datagrid normalizes JSON or XML documents into flat tables, then
// queries, inspects, exports or serves them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"datagrid/internal/apperr"
	"datagrid/internal/config"
	"datagrid/internal/logger"
	"datagrid/internal/metrics"
	"datagrid/internal/metrics/datadog"
	"datagrid/internal/pipeline"
	"datagrid/internal/query"
	"datagrid/internal/render"
	"datagrid/internal/server"
	_ "datagrid/internal/storage/all"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
)

// backendCloser is the minimal interface used by this command to manage a metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
type deps struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)

	// Serve runs the HTTP server until ctx is done.
	Serve func(ctx context.Context, s *server.Server, addr string, readTimeout time.Duration) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], deps{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
		Serve: func(ctx context.Context, s *server.Server, addr string, readTimeout time.Duration) error {
			return s.Run(ctx, addr, readTimeout)
		},
	})
	stop()
	os.Exit(code)
}

// usageError marks failures caused by flags or configuration.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// run executes the command line and returns an exit code.
//
// Exit codes:
//   - 0: success.
//   - 1: the input could not be fetched, parsed or exported.
//   - 2: flag, configuration or initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Stdin == nil {
		d.Stdin = strings.NewReader("")
	}

	a := &app{deps: d}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(d.Stdin)
	root.SetOut(d.Stdout)
	root.SetErr(d.Stderr)

	err := root.ExecuteContext(ctx)
	a.closeMetrics()
	if err == nil {
		return 0
	}

	fmt.Fprintf(d.Stderr, "error: %v\n", err)
	var ue usageError
	if errors.As(err, &ue) || (a.env == nil && apperr.KindOf(err) == "") {
		return 2
	}
	return 1
}

// globalFlags are accepted by every subcommand.
type globalFlags struct {
	configPath      string
	format          string
	recordPath      string
	collectRepeated bool
	jsonLines       bool
	locale          string
	metricsBackend  string
	verbose         bool
}

// env is what PersistentPreRunE resolves before a subcommand runs.
type env struct {
	cfg      config.Config
	pipeline pipeline.Options
	format   render.Format
	locale   language.Tag
}

type app struct {
	deps    deps
	flags   globalFlags
	env     *env
	backend backendCloser
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "datagrid",
		Short:         "Normalize JSON or XML into a searchable, sortable table",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (yaml, json or toml)")
	pf.StringVarP(&a.flags.format, "format", "o", "table", "output format: table, json, yaml or csv")
	pf.StringVar(&a.flags.recordPath, "record-path", "", "gjson path (JSON) or XPath (XML) selecting the rows")
	pf.BoolVar(&a.flags.collectRepeated, "collect-repeated", true, "collect repeated XML siblings into a list instead of keeping the last")
	pf.BoolVar(&a.flags.jsonLines, "lines", false, "read JSON input as JSON Lines (one value per line)")
	pf.StringVar(&a.flags.locale, "locale", "", "collation locale for sorting (e.g. de, sv-SE)")
	pf.StringVar(&a.flags.metricsBackend, "metrics-backend", "", "metrics backend: none or datadog")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "enable debug logs")

	root.AddCommand(
		a.parseCommand(),
		a.queryCommand(),
		a.inspectCommand(),
		a.exportCommand(),
		a.serveCommand(),
	)
	return root
}

// setup loads config, applies flag overrides and initializes logging and
// metrics. Flags only override config values when set explicitly.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return usageError{err}
	}

	flags := cmd.Flags()
	if flags.Changed("record-path") {
		cfg.Parse.RecordPath = a.flags.recordPath
	}
	if flags.Changed("collect-repeated") {
		cfg.Parse.CollectRepeated = a.flags.collectRepeated
	}
	if flags.Changed("lines") {
		cfg.Parse.JSONLines = a.flags.jsonLines
	}
	if flags.Changed("locale") {
		cfg.Query.Locale = a.flags.locale
	}
	if flags.Changed("metrics-backend") {
		cfg.Metrics.Backend = a.flags.metricsBackend
	}
	if a.flags.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return usageError{err}
	}

	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: a.deps.Stderr})

	format, err := render.ParseFormat(a.flags.format)
	if err != nil {
		return usageError{err}
	}
	tag, err := query.ParseLocale(cfg.Query.Locale)
	if err != nil {
		return usagef("locale %q: %v", cfg.Query.Locale, err)
	}
	popts, err := pipeline.FromConfig(cfg, a.deps.Stdin)
	if err != nil {
		return usageError{err}
	}

	if err := a.initMetrics(cmd.Context(), cmd.Name(), cfg.Metrics); err != nil {
		return usageError{err}
	}

	a.env = &env{cfg: cfg, pipeline: popts, format: format, locale: tag}
	return nil
}

func (a *app) initMetrics(ctx context.Context, command string, mc config.MetricsConfig) error {
	switch strings.ToLower(mc.Backend) {
	case "", "none":
		logger.Debug("metrics disabled")
		return nil
	case "datadog":
		if a.deps.BackendFactory == nil {
			return errors.New("internal error: BackendFactory is nil")
		}
		tags := append(datadog.ParseTagsCSV(mc.Tags), "command:"+command)
		b, err := a.deps.BackendFactory(ctx, "datagrid", tags, mc.FlushEvery)
		if err != nil {
			return fmt.Errorf("datadog backend init failed: %w", err)
		}
		metrics.SetBackend(b)
		a.backend = b
		logger.Info("metrics: using datadog backend", "flush_every", mc.FlushEvery)
		return nil
	default:
		return fmt.Errorf("unknown metrics backend %q", mc.Backend)
	}
}

func (a *app) closeMetrics() {
	if a.backend == nil {
		return
	}
	if err := metrics.Flush(); err != nil {
		logger.Warn("metrics flush failed", "error", err)
	}
	if err := a.backend.Close(); err != nil {
		logger.Warn("metrics close failed", "error", err)
	}
	metrics.SetBackend(nil)
	a.backend = nil
}

// sourceArg returns the single optional positional source; stdin when absent.
func sourceArg(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	return args[0]
}

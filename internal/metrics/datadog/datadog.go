// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Flushing:
// The backend serves both one-shot CLI runs and the long-running API server.
// Submitting only at exit would give a long-running server a single spike
// instead of a time series, so we:
//   - buffer metrics in-memory (lock-protected)
//   - Flush() periodically on a ticker (default: once per minute)
//   - Flush() one final time on Close()
//
// Concurrency model:
//   - any goroutine can call IncCounter/ObserveHistogram at any time
//   - Flush snapshots and resets buffers under a mutex, then submits out-of-lock
//   - the flush loop calls Flush() periodically; Close() stops the loop
//
// If the process is killed with SIGKILL/OOM, Close() won't run.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"datagrid/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "datagrid".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:datagrid"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets them.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses, so
// tests can substitute a fake instead of doing real HTTP.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// metricSpec maps an internal metric name to its Datadog name and the label
// keys that become tags.
type metricSpec struct {
	ddName string
	labels []string
}

var counterCatalog = map[string]metricSpec{
	metrics.StepTotal:         {ddName: "datagrid.step.total", labels: []string{"step", "status"}},
	metrics.RowsTotal:         {ddName: "datagrid.rows.total", labels: []string{"format"}},
	metrics.HTTPRequestsTotal: {ddName: "datagrid.http.requests.total", labels: []string{"status"}},
	metrics.HTTPErrorsTotal:   {ddName: "datagrid.http.errors.total", labels: []string{"status"}},
	metrics.APIRequestsTotal:  {ddName: "datagrid.api.requests.total", labels: []string{"route", "status"}},
}

var histogramCatalog = map[string]metricSpec{
	metrics.StepDurationSeconds:        {ddName: "datagrid.step.duration_seconds", labels: []string{"step", "status"}},
	metrics.HTTPRequestDurationSeconds: {ddName: "datagrid.http.request_duration_seconds", labels: []string{"status"}},
	metrics.HTTPDownloadBytes:          {ddName: "datagrid.http.download_bytes", labels: []string{"status"}},
	metrics.APIRequestDurationSeconds:  {ddName: "datagrid.api.request_duration_seconds", labels: []string{"route", "status"}},
}

type counterEntry struct {
	metric string
	tags   []string
	value  float64
}

type histogramEntry struct {
	metric  string
	tags    []string
	samples []float64
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu         sync.Mutex
	counters   map[string]*counterEntry
	histograms map[string]*histogramEntry
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client. The
// client reads DD_API_KEY / DD_SITE from the environment; network errors
// surface from Flush().
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "datagrid".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}

	job := opts.JobName
	if job == "" {
		job = "datagrid"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[string]*counterEntry),
		histograms: make(map[string]*histogramEntry),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
// Calling Close more than once only flushes again.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

// tagsFor resolves a catalog entry's label keys against labels. Missing
// values become "unknown".
func tagsFor(spec metricSpec, labels metrics.Labels) []string {
	tags := make([]string, len(spec.labels))
	for i, k := range spec.labels {
		v := strings.TrimSpace(labels[k])
		if v == "" {
			v = "unknown"
		}
		tags[i] = k + ":" + v
	}
	return tags
}

func seriesKey(metric string, tags []string) string {
	return metric + "\x00" + strings.Join(tags, "\x00")
}

// IncCounter implements metrics.Backend. Unknown names and non-positive
// deltas are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	spec, ok := counterCatalog[name]
	if !ok {
		return
	}
	tags := tagsFor(spec, labels)
	k := seriesKey(spec.ddName, tags)

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.counters[k]
	if !ok {
		e = &counterEntry{metric: spec.ddName, tags: tags}
		b.counters[k] = e
	}
	e.value += delta
}

// ObserveHistogram implements metrics.Backend. Unknown names and negative
// samples are dropped.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	spec, ok := histogramCatalog[name]
	if !ok {
		return
	}
	tags := tagsFor(spec, labels)
	k := seriesKey(spec.ddName, tags)

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.histograms[k]
	if !ok {
		e = &histogramEntry{metric: spec.ddName, tags: tags}
		b.histograms[k] = e
	}
	e.samples = append(e.samples, value)
}

// snapshot is the detached buffer state used to build one flush payload.
type snapshot struct {
	counters   map[string]*counterEntry
	histograms map[string]*histogramEntry
}

func (s snapshot) isEmpty() bool {
	return len(s.counters) == 0 && len(s.histograms) == 0
}

// snapshotAndReset grabs the buffers and replaces them with empty ones.
// Must be called with no lock held.
func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{counters: b.counters, histograms: b.histograms}
	b.counters = make(map[string]*counterEntry)
	b.histograms = make(map[string]*histogramEntry)
	return s
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Buffers are reset even if submission fails; delivery is at-most-once.
// Returns nil without submitting when there is nothing buffered.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	series := b.buildSeries(snap, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries constructs Datadog series for a snapshot at a fixed timestamp.
// It is pure; series are ordered by key so payloads are deterministic.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.counters)+6*len(s.histograms))

	for _, k := range sortedKeys(s.counters) {
		e := s.counters[k]
		if e.value == 0 {
			continue
		}
		series = append(series, countSeries(e.metric, e.value, withTags(b.baseTags, e.tags...), nowUnix))
	}

	for _, k := range sortedKeys(s.histograms) {
		e := s.histograms[k]
		addPercentiles(&series, withTags(b.baseTags, e.tags...), e.metric, e.samples, nowUnix)
	}
	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for a sample set.
// Empty sample sets add nothing; samples is not modified.
func addPercentiles(series *[]datadogV2.MetricSeries, tags []string, metricPrefix string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series,
		gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:datagrid".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}

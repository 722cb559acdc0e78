// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Observations are buffered in memory and submitted on a ticker (default once
// per minute) plus one final submission on Close. A load over a large song
// tree therefore shows up as a time series rather than a single spike.
//
// Only the pipeline's own metric names are recognised:
//
//	etl_step_total{step,status}            -> sparkify.step.total
//	etl_step_duration_seconds{step,status} -> sparkify.step.duration_seconds.{p50,p90,p99,max,samples}
//	etl_records_total{kind}                -> sparkify.records.total
//	etl_batches_total{phase}               -> sparkify.batches.total
//
// Anything else is dropped.
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

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"sparkify/internal/metrics"
)

const namespace = "sparkify"

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every series. Defaults to "sparkify".
	JobName string

	// RunID becomes tag "run_id:<id>" when set.
	RunID string

	// Tags are extra Datadog tags (e.g. "env:prod", "team:analytics").
	Tags []string

	// FlushEvery defaults to 60s.
	FlushEvery time.Duration

	// test seams
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the subset of *datadogV2.MetricsApi used by Backend.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags  []string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu  sync.Mutex
	buf buffer
}

// buffer is one collection window.
type buffer struct {
	steps     map[stepKey]float64
	records   map[string]float64
	batches   map[string]float64
	durations map[stepKey][]float64
}

type stepKey struct {
	step   string
	status string
}

func newBuffer() buffer {
	return buffer{
		steps:     make(map[stepKey]float64),
		records:   make(map[string]float64),
		batches:   make(map[string]float64),
		durations: make(map[stepKey][]float64),
	}
}

func (b buffer) empty() bool {
	return len(b.steps) == 0 && len(b.records) == 0 && len(b.batches) == 0 && len(b.durations) == 0
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
// client reads DD_API_KEY / DD_SITE from the environment through
// dd.NewDefaultContext; network errors surface from Flush.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}

	job := opts.JobName
	if job == "" {
		job = "sparkify"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := []string{resolveEnvTag(), "job:" + job}
	if opts.RunID != "" {
		baseTags = append(baseTags, "run_id:"+opts.RunID)
	}
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
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
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
		buf:        newBuffer(),
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

// Close stops the flush loop and submits whatever is still buffered.
// Subsequent calls only flush.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "etl_step_total":
		b.buf.steps[stepKey{labels["step"], labels["status"]}] += delta
	case "etl_records_total":
		if kind := labels["kind"]; kind != "" {
			b.buf.records[kind] += delta
		}
	case "etl_batches_total":
		phase := labels["phase"]
		if phase == "" {
			phase = "unknown"
		}
		b.buf.batches[phase] += delta
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != "etl_step_duration_seconds" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := stepKey{labels["step"], labels["status"]}
	b.buf.durations[k] = append(b.buf.durations[k], value)
}

// Flush submits the current window and starts a new one. The window is
// discarded even when submission fails.
func (b *Backend) Flush() error {
	b.mu.Lock()
	snap := b.buf
	b.buf = newBuffer()
	b.mu.Unlock()

	if snap.empty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries is pure so tests can inspect naming and tagging directly.
func (b *Backend) buildSeries(s buffer, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.steps)+len(s.records)+len(s.batches)+5*len(s.durations))

	for k, v := range s.steps {
		series = append(series, point(datadogV2.METRICINTAKETYPE_COUNT, namespace+".step.total", v,
			withTags(b.baseTags, "step:"+k.step, "status:"+k.status), nowUnix))
	}
	for kind, v := range s.records {
		series = append(series, point(datadogV2.METRICINTAKETYPE_COUNT, namespace+".records.total", v,
			withTags(b.baseTags, "kind:"+kind), nowUnix))
	}
	for phase, v := range s.batches {
		series = append(series, point(datadogV2.METRICINTAKETYPE_COUNT, namespace+".batches.total", v,
			withTags(b.baseTags, "phase:"+phase), nowUnix))
	}
	for k, samples := range s.durations {
		tags := withTags(b.baseTags, "step:"+k.step, "status:"+k.status)
		series = append(series, summarize(namespace+".step.duration_seconds", samples, tags, nowUnix)...)
	}
	return series
}

// summarize turns raw samples into percentile gauges. samples is not mutated.
func summarize(prefix string, samples []float64, tags []string, nowUnix int64) []datadogV2.MetricSeries {
	if len(samples) == 0 {
		return nil
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	g := datadogV2.METRICINTAKETYPE_GAUGE
	return []datadogV2.MetricSeries{
		point(g, prefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		point(g, prefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		point(g, prefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		point(g, prefix+".max", cp[len(cp)-1], tags, nowUnix),
		point(g, prefix+".samples", float64(len(cp)), tags, nowUnix),
	}
}

func point(typ datadogV2.MetricIntakeType, metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

// percentileNearestRank expects s sorted ascending.
func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	switch {
	case n == 0:
		return 0
	case p <= 0:
		return s[0]
	case p >= 1:
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:analytics".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
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

var _ metrics.Backend = (*Backend)(nil)

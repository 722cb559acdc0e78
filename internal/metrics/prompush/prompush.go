// Package prompush implements a metrics.Backend that pushes to a Prometheus
// Pushgateway. A batch job has no scrape endpoint, so the collectors live in a
// private registry that is pushed on Flush.
package prompush

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"sparkify/internal/metrics"
)

// Options configures the Pushgateway backend.
type Options struct {
	// URL of the Pushgateway, e.g. http://pushgateway:9091. Required.
	URL string
	// JobName is the Pushgateway job grouping key. Defaults to "sparkify".
	JobName string
	// Grouping adds extra grouping labels such as run_id.
	Grouping map[string]string
}

// Backend implements metrics.Backend on a private prometheus.Registry.
type Backend struct {
	registry *prometheus.Registry
	pusher   *push.Pusher

	steps     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	records   *prometheus.CounterVec
	batches   *prometheus.CounterVec

	mu sync.Mutex
}

// NewBackend registers the pipeline collectors and prepares the pusher.
func NewBackend(opts Options) (*Backend, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("prompush: pushgateway url is required")
	}
	job := opts.JobName
	if job == "" {
		job = "sparkify"
	}

	b := &Backend{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_step_total",
			Help: "Pipeline steps by outcome.",
		}, []string{"step", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_step_duration_seconds",
			Help:    "Pipeline step duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_records_total",
			Help: "Rows written or resolved, by kind.",
		}, []string{"kind"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_batches_total",
			Help: "Committed per-file transactions, by phase.",
		}, []string{"phase"}),
	}
	for _, c := range []prometheus.Collector{b.steps, b.durations, b.records, b.batches} {
		if err := b.registry.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}

	b.pusher = push.New(opts.URL, job).Gatherer(b.registry)
	for k, v := range opts.Grouping {
		b.pusher = b.pusher.Grouping(k, v)
	}
	return b, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case "etl_step_total":
		b.steps.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case "etl_records_total":
		if kind := labels["kind"]; kind != "" {
			b.records.WithLabelValues(kind).Add(delta)
		}
	case "etl_batches_total":
		b.batches.WithLabelValues(labels["phase"]).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != "etl_step_duration_seconds" {
		return
	}
	b.durations.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush replaces the job's group on the Pushgateway with the current totals.
// Counters are cumulative for the process, so repeated pushes are safe.
func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

// Registry exposes the underlying registry, mainly for tests.
func (b *Backend) Registry() *prometheus.Registry { return b.registry }

var _ metrics.Backend = (*Backend)(nil)

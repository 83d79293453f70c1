// Package metrics exposes coordinator measurements in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ratify"

// Recorder records operation outcomes, lock waits and open proposal counts
// on its own registry.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	lockWait   prometheus.Histogram
	open       *prometheus.GaugeVec
}

// New creates a Recorder with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Coordinator operations by outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Coordinator operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a project lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_proposals",
			Help:      "Pending and previewed proposals per project.",
		}, []string{"project"}),
	}
	r.registry.MustRegister(
		r.operations,
		r.latency,
		r.lockWait,
		r.open,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Operation counts one finished operation.
func (r *Recorder) Operation(op, outcome string, d time.Duration) {
	r.operations.WithLabelValues(op, outcome).Inc()
	r.latency.WithLabelValues(op).Observe(d.Seconds())
}

// LockWait observes one lock acquisition.
func (r *Recorder) LockWait(d time.Duration) {
	r.lockWait.Observe(d.Seconds())
}

// OpenProposals sets the open proposal gauge for a project.
func (r *Recorder) OpenProposals(projectID string, n int) {
	r.open.WithLabelValues(projectID).Set(float64(n))
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Package metrics exports worker activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts fetch events, installs and activations on a private registry.
type Recorder struct {
	registry        *prometheus.Registry
	fetchTotal      *prometheus.CounterVec
	installTotal    *prometheus.CounterVec
	activateDeleted prometheus.Counter
	upstreamLatency prometheus.Histogram
}

var _ contract.Recorder = &Recorder{} // Compile-time check

// New creates a Recorder with its own registry, including the Go runtime collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offlinecache_fetch_total",
				Help: "Fetch events by the source that answered them",
			},
			[]string{"source"},
		),
		installTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offlinecache_install_total",
				Help: "Install attempts by result",
			},
			[]string{"result"},
		),
		activateDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "offlinecache_activate_deleted_total",
				Help: "Stale cache generations deleted on activate",
			},
		),
		upstreamLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "offlinecache_upstream_duration_seconds",
				Help:    "Latency of upstream fetches, including failed ones",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
	}

	// Pre-create label values so every series is exported from the start
	for _, source := range []schema.FetchSource{schema.SourceNetwork, schema.SourceCache, schema.SourceMiss, schema.SourceError} {
		r.fetchTotal.WithLabelValues(string(source))
	}
	r.installTotal.WithLabelValues("success")
	r.installTotal.WithLabelValues("failure")

	r.registry.MustRegister(
		r.fetchTotal,
		r.installTotal,
		r.activateDeleted,
		r.upstreamLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveFetch implements contract.Recorder.
func (r *Recorder) ObserveFetch(source schema.FetchSource) {
	r.fetchTotal.WithLabelValues(string(source)).Inc()
}

// ObserveInstall implements contract.Recorder.
func (r *Recorder) ObserveInstall(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.installTotal.WithLabelValues(result).Inc()
}

// ObserveActivate implements contract.Recorder.
func (r *Recorder) ObserveActivate(deleted int) {
	r.activateDeleted.Add(float64(deleted))
}

// ObserveUpstream implements contract.Recorder.
func (r *Recorder) ObserveUpstream(elapsed time.Duration) {
	r.upstreamLatency.Observe(elapsed.Seconds())
}

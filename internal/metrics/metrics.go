// Package metrics exposes Prometheus instruments on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parc"

// Collector holds every instrument. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	ChunksMerged        prometheus.Counter
	GenerationFailures  *prometheus.CounterVec
	GenerationDuration  prometheus.Histogram
	ReconcileWarnings   *prometheus.CounterVec
	SnapshotCacheHits   prometheus.Counter
	SnapshotCacheMisses prometheus.Counter
	PlaybackTicks       prometheus.Counter
	StorageErrors       *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ChunksMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_merged_total",
			Help:      "Generated chunks merged into a timeline",
		}),
		GenerationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Continuation attempts that merged nothing",
		}, []string{"reason"}),
		GenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generator call latency in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		ReconcileWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_warnings_total",
			Help:      "Timeline items skipped during reconciliation",
		}, []string{"reconciler"}),
		SnapshotCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_hits_total",
			Help:      "Graph snapshots served from cache",
		}),
		SnapshotCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_misses_total",
			Help:      "Graph snapshots reconciled on demand",
		}),
		PlaybackTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_ticks_total",
			Help:      "Playback ticks that revealed an event",
		}),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Persistence failures tolerated in memory",
		}, []string{"op"}),
	}
	c.registry.MustRegister(
		c.HTTPRequests, c.HTTPDuration,
		c.ChunksMerged, c.GenerationFailures, c.GenerationDuration,
		c.ReconcileWarnings, c.SnapshotCacheHits, c.SnapshotCacheMisses,
		c.PlaybackTicks, c.StorageErrors,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveGeneration(d time.Duration, err error, reason string) {
	if c == nil {
		return
	}
	c.GenerationDuration.Observe(d.Seconds())
	if err != nil {
		c.GenerationFailures.WithLabelValues(reason).Inc()
		return
	}
	c.ChunksMerged.Inc()
}

func (c *Collector) Warnings(reconciler string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.ReconcileWarnings.WithLabelValues(reconciler).Add(float64(n))
}

func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.SnapshotCacheHits.Inc()
	} else {
		c.SnapshotCacheMisses.Inc()
	}
}

func (c *Collector) Tick() {
	if c == nil {
		return
	}
	c.PlaybackTicks.Inc()
}

func (c *Collector) StorageError(op string) {
	if c == nil {
		return
	}
	c.StorageErrors.WithLabelValues(op).Inc()
}

func (c *Collector) HTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

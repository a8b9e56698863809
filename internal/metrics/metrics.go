package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors published by the load pipeline.
// A nil *Metrics is valid and turns every recording method into a no-op, so
// components can hold one unconditionally.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	fetchesStarted  prometheus.Counter
	fetchesDeduped  prometheus.Counter
	fetchesFailed   prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	memoryCacheHits prometheus.Counter
	decodeFailures  prometheus.Counter
	processFailures prometheus.Counter
	cancellations   prometheus.Counter
	activeFetches   prometheus.Gauge
	stageDurations  *prometheus.HistogramVec
}

// NewMetrics creates and registers the pipeline collectors on a private
// registry, so repeated construction in tests never collides with the
// default global registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		fetchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgloader_fetches_started_total",
			Help: "Number of underlying transport fetches started.",
		}),
		fetchesDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgloader_fetches_deduplicated_total",
			Help: "Number of submissions attached to an already-running fetch.",
		}),
		fetchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgloader_fetches_failed_total",
			Help: "Number of transport fetches that terminated with an error.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgloader_cache_hits_total",
			Help: "Number of disk cache lookups that short-circuited a fetch.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgloader_cache_misses_total",
			Help: "Number of disk cache lookups that fell through to a fetch.",
		}),
		memoryCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgloader_memory_cache_hits_total",
			Help: "Number of submissions satisfied from the processed-image memory cache.",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgloader_decode_failures_total",
			Help: "Number of decode stage failures.",
		}),
		processFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgloader_process_failures_total",
			Help: "Number of processing stage failures.",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgloader_cancellations_total",
			Help: "Number of logical tasks cancelled before completion.",
		}),
		activeFetches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imgloader_active_fetches",
			Help: "Number of transport fetches currently executing.",
		}),
		stageDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imgloader_stage_duration_seconds",
			Help:    "Duration of pipeline stage executions by stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.fetchesStarted, m.fetchesDeduped, m.fetchesFailed,
		m.cacheHits, m.cacheMisses, m.memoryCacheHits,
		m.decodeFailures, m.processFailures, m.cancellations,
		m.activeFetches, m.stageDurations,
	)
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return m
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

// FetchStarted records a transport fetch start.
func (m *Metrics) FetchStarted() {
	if m == nil {
		return
	}
	m.fetchesStarted.Inc()
	m.activeFetches.Inc()
}

// FetchFinished records a transport fetch termination; failed marks error
// terminations (including cancellation of the underlying fetch).
func (m *Metrics) FetchFinished(failed bool) {
	if m == nil {
		return
	}
	m.activeFetches.Dec()
	if failed {
		m.fetchesFailed.Inc()
	}
}

// FetchDeduplicated records a submission that attached to an existing fetch.
func (m *Metrics) FetchDeduplicated() {
	if m == nil {
		return
	}
	m.fetchesDeduped.Inc()
}

// CacheLookup records a disk cache lookup outcome.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// MemoryCacheHit records a submission satisfied from the memory cache.
func (m *Metrics) MemoryCacheHit() {
	if m == nil {
		return
	}
	m.memoryCacheHits.Inc()
}

// DecodeFailed records a decode stage failure.
func (m *Metrics) DecodeFailed() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

// ProcessFailed records a processing stage failure.
func (m *Metrics) ProcessFailed() {
	if m == nil {
		return
	}
	m.processFailures.Inc()
}

// TaskCancelled records a logical task cancellation.
func (m *Metrics) TaskCancelled() {
	if m == nil {
		return
	}
	m.cancellations.Inc()
}

// ObserveStage records the duration of one pipeline stage execution.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDurations.WithLabelValues(stage).Observe(d.Seconds())
}

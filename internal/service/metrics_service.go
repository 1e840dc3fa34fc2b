package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the console.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	remoteDuration  *prometheus.HistogramVec
	remoteTotal     *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	mutations       *prometheus.CounterVec
	bulkActions     *prometheus.CounterVec
	bulkItems       *prometheus.CounterVec
	staleResponses  prometheus.Counter
	consolidated    *prometheus.CounterVec

	cacheHitCount       uint64
	cacheMissCount      uint64
	remoteCount         uint64
	remoteDurationTotal uint64
	staleCount          uint64
	rollbackCount       uint64
}

// MetricsSnapshot is a compact summary for health output.
type MetricsSnapshot struct {
	RemoteRequests      uint64    `json:"remoteRequests"`
	AverageRemoteMillis float64   `json:"averageRemoteMs"`
	CacheHitRatio       float64   `json:"cacheHitRatio"`
	StaleResponses      uint64    `json:"staleResponses"`
	Rollbacks           uint64    `json:"rollbacks"`
	Goroutines          int       `json:"goroutines"`
	GeneratedAt         time.Time `json:"generatedAt"`
}

// NewMetricsService registers the console collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests served locally in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests served locally",
	}, []string{"method", "path", "status"})

	remoteDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inbox_remote_request_duration_seconds",
		Help:    "Duration of calls to the inbox service",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method", "status"})

	remoteTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inbox_remote_requests_total",
		Help: "Total calls to the inbox service",
	}, []string{"endpoint", "method", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for lookup cache reads",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for lookup cache writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inbox_mutations_total",
		Help: "Single-item reviews by action and outcome",
	}, []string{"action", "outcome"})

	bulkActions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inbox_bulk_actions_total",
		Help: "Bulk reviews by action and outcome",
	}, []string{"action", "outcome"})

	bulkItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inbox_bulk_items_total",
		Help: "Items requested and transitioned by bulk reviews",
	}, []string{"action", "kind"})

	staleResponses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inbox_stale_responses_total",
		Help: "List responses discarded because a newer request superseded them",
	})

	consolidated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inbox_consolidation_effects_total",
		Help: "Effects reported by consolidation runs",
	}, []string{"effect"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, remoteDuration, remoteTotal, cacheLatency, cacheWrite,
		cacheHitRatio, cacheHits, cacheMisses, mutations, bulkActions, bulkItems, staleResponses, consolidated, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		remoteDuration:  remoteDuration,
		remoteTotal:     remoteTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		mutations:       mutations,
		bulkActions:     bulkActions,
		bulkItems:       bulkItems,
		staleResponses:  staleResponses,
		consolidated:    consolidated,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records a request served by a local gin surface.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveRemoteRequest records a call to the inbox service.
func (m *MetricsService) ObserveRemoteRequest(endpoint, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.remoteDuration.WithLabelValues(endpoint, method, labelStatus).Observe(duration.Seconds())
	m.remoteTotal.WithLabelValues(endpoint, method, labelStatus).Inc()
	atomic.AddUint64(&m.remoteCount, 1)
	atomic.AddUint64(&m.remoteDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordMutation counts a single-item review outcome: committed, rolled_back or refused.
func (m *MetricsService) RecordMutation(action, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(action, outcome).Inc()
	if outcome == "rolled_back" {
		atomic.AddUint64(&m.rollbackCount, 1)
	}
}

// RecordBulk counts a bulk review and, on success, its item totals.
func (m *MetricsService) RecordBulk(action, outcome string, requested, transitioned int) {
	if m == nil {
		return
	}
	m.bulkActions.WithLabelValues(action, outcome).Inc()
	m.bulkItems.WithLabelValues(action, "requested").Add(float64(requested))
	m.bulkItems.WithLabelValues(action, "transitioned").Add(float64(transitioned))
}

// RecordStaleResponse counts a discarded list response.
func (m *MetricsService) RecordStaleResponse() {
	if m == nil {
		return
	}
	m.staleResponses.Inc()
	atomic.AddUint64(&m.staleCount, 1)
}

// RecordConsolidation adds the effects of one consolidation run.
func (m *MetricsService) RecordConsolidation(tmUpserts, occInserted, embUpserts int) {
	if m == nil {
		return
	}
	m.consolidated.WithLabelValues("tm_upserts").Add(float64(tmUpserts))
	m.consolidated.WithLabelValues("occ_inserted").Add(float64(occInserted))
	m.consolidated.WithLabelValues("emb_upserts").Add(float64(embUpserts))
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	remote := atomic.LoadUint64(&m.remoteCount)
	remoteDuration := atomic.LoadUint64(&m.remoteDurationTotal)

	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	var avgRemote float64
	if remote > 0 {
		avgRemote = float64(remoteDuration) / float64(remote) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RemoteRequests:      remote,
		AverageRemoteMillis: avgRemote,
		CacheHitRatio:       ratio,
		StaleResponses:      atomic.LoadUint64(&m.staleCount),
		Rollbacks:           atomic.LoadUint64(&m.rollbackCount),
		Goroutines:          runtime.NumGoroutine(),
		GeneratedAt:         time.Now().UTC(),
	}
}

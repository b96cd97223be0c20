package service

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the ledger and
// retention engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	ledgerRecomputes   prometheus.Counter
	refundsProcessed   prometheus.Counter
	callsCompleted     *prometheus.CounterVec
	followUpsScheduled prometheus.Counter
	connectionsCreated prometheus.Counter

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
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

	ledgerRecomputes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_recomputes_total",
		Help: "Total student ledger recomputations",
	})

	refundsProcessed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refunds_processed_total",
		Help: "Total refunds applied to student ledgers",
	})

	callsCompleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_calls_completed_total",
		Help: "Total completed retention calls by sentiment",
	}, []string{"sentiment"})

	followUpsScheduled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outreach_followups_scheduled_total",
		Help: "Total follow-up calls scheduled automatically",
	})

	connectionsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "student_connections_created_total",
		Help: "Total peer connection pairs created",
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		cacheLatency, cacheWrite,
		cacheHitRatio, cacheHits, cacheMisses,
		ledgerRecomputes, refundsProcessed, callsCompleted, followUpsScheduled, connectionsCreated,
	)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		ledgerRecomputes:   ledgerRecomputes,
		refundsProcessed:   refundsProcessed,
		callsCompleted:     callsCompleted,
		followUpsScheduled: followUpsScheduled,
		connectionsCreated: connectionsCreated,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one HTTP request observation.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, strconv.Itoa(status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// RecordCacheOperation tracks a cache lookup and refreshes the hit ratio.
func (s *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	s.cacheLatency.Observe(duration.Seconds())
	if hit {
		s.cacheHits.Inc()
		atomic.AddUint64(&s.cacheHitCount, 1)
	} else {
		s.cacheMisses.Inc()
		atomic.AddUint64(&s.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&s.cacheHitCount)
	misses := atomic.LoadUint64(&s.cacheMissCount)
	if total := hits + misses; total > 0 {
		s.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks a cache set operation.
func (s *MetricsService) ObserveCacheWrite(duration time.Duration) {
	s.cacheWrite.Observe(duration.Seconds())
}

// RecordLedgerRecompute counts one ledger recomputation.
func (s *MetricsService) RecordLedgerRecompute() {
	s.ledgerRecomputes.Inc()
}

// RecordRefund counts one processed refund.
func (s *MetricsService) RecordRefund() {
	s.refundsProcessed.Inc()
}

// RecordCallCompleted counts one completed retention call.
func (s *MetricsService) RecordCallCompleted(sentiment string) {
	s.callsCompleted.WithLabelValues(sentiment).Inc()
}

// RecordFollowUpScheduled counts one automatic follow-up.
func (s *MetricsService) RecordFollowUpScheduled() {
	s.followUpsScheduled.Inc()
}

// RecordConnectionCreated counts one mirrored connection pair.
func (s *MetricsService) RecordConnectionCreated() {
	s.connectionsCreated.Inc()
}

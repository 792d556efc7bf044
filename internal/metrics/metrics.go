package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for BeadHub
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Presence metrics
	HeartbeatsTotal  *prometheus.CounterVec
	PresenceUpserts  prometheus.Counter
	PresenceFailures prometheus.Counter

	// Claim metrics
	ClaimsTotal    *prometheus.CounterVec
	ClaimConflicts prometheus.Counter

	// Issue sync metrics
	SyncsTotal      *prometheus.CounterVec
	SyncedIssues    prometheus.Counter
	SyncConflicts   prometheus.Counter
	SyncDuration    *prometheus.HistogramVec
	SyncPayloadSize prometheus.Histogram

	// Event metrics
	EventsPublished *prometheus.CounterVec
	SSEStreams      prometheus.Gauge
	SSEReconnects   prometheus.Counter

	// Outbox metrics
	OutboxProcessed *prometheus.CounterVec
	OutboxPending   prometheus.Gauge

	// System metrics
	DatabaseConnections prometheus.Gauge
	StatusCacheHits     prometheus.Counter
	StatusCacheMisses   prometheus.Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "beadhub_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "beadhub_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),

			HeartbeatsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "beadhub_heartbeats_total",
					Help: "Total number of workspace heartbeats",
				},
				[]string{"result"},
			),
			PresenceUpserts: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "beadhub_presence_upserts_total",
					Help: "Total number of presence writes to Redis",
				},
			),
			PresenceFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "beadhub_presence_failures_total",
					Help: "Total number of failed presence writes",
				},
			),

			ClaimsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "beadhub_claims_total",
					Help: "Total number of bead claim operations",
				},
				[]string{"operation", "result"},
			),
			ClaimConflicts: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "beadhub_claim_conflicts_total",
					Help: "Total number of exclusive claim conflicts",
				},
			),

			SyncsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "beadhub_issue_syncs_total",
					Help: "Total number of issue sync uploads",
				},
				[]string{"mode", "result"},
			),
			SyncedIssues: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "beadhub_synced_issues_total",
					Help: "Total number of issues written during sync",
				},
			),
			SyncConflicts: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "beadhub_sync_conflicts_total",
					Help: "Total number of optimistic-lock conflicts during sync",
				},
			),
			SyncDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "beadhub_sync_duration_seconds",
					Help:    "Issue sync duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to 20s
				},
				[]string{"mode"},
			),
			SyncPayloadSize: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "beadhub_sync_payload_bytes",
					Help:    "Issue sync payload size in bytes",
					Buckets: prometheus.ExponentialBuckets(1024, 4, 8), // 1KiB to 16MiB
				},
			),

			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "beadhub_events_published_total",
					Help: "Total number of events published to Redis pub/sub",
				},
				[]string{"event_type"},
			),
			SSEStreams: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "beadhub_sse_streams",
					Help: "Number of open SSE/WebSocket event streams",
				},
			),
			SSEReconnects: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "beadhub_sse_reconnects_total",
					Help: "Total number of Redis pub/sub reconnects during streaming",
				},
			),

			OutboxProcessed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "beadhub_outbox_processed_total",
					Help: "Total number of outbox notifications processed",
				},
				[]string{"result"},
			),
			OutboxPending: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "beadhub_outbox_pending",
					Help: "Number of unprocessed outbox rows at last poll",
				},
			),

			DatabaseConnections: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "beadhub_database_connections",
					Help: "Number of active database connections",
				},
			),
			StatusCacheHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "beadhub_status_cache_hits_total",
					Help: "Total number of status aggregation cache hits",
				},
			),
			StatusCacheMisses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "beadhub_status_cache_misses_total",
					Help: "Total number of status aggregation cache misses",
				},
			),
		}
	})

	return sharedMetrics
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordClaim records one claim operation outcome
func (m *Metrics) RecordClaim(operation string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	m.ClaimsTotal.WithLabelValues(operation, result).Inc()
}

// RecordSync records one issue sync upload
func (m *Metrics) RecordSync(mode string, ok bool, synced, conflicts int, seconds float64, payloadBytes int) {
	result := "error"
	if ok {
		result = "ok"
	}
	m.SyncsTotal.WithLabelValues(mode, result).Inc()
	m.SyncedIssues.Add(float64(synced))
	m.SyncConflicts.Add(float64(conflicts))
	m.SyncDuration.WithLabelValues(mode).Observe(seconds)
	m.SyncPayloadSize.Observe(float64(payloadBytes))
}

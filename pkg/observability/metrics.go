package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Global metrics instance for singleton pattern
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Ingestion metrics
	ActiveSessions    prometheus.Gauge
	SegmentsIngested  prometheus.Counter
	OutOfOrderAppends prometheus.Counter
	SessionsFinalized *prometheus.CounterVec

	// Job metrics
	JobsRegistered *prometheus.CounterVec
	JobsTerminal   *prometheus.CounterVec
	PendingJobs    prometheus.Gauge

	// Extraction metrics
	ExtractionOutcomes *prometheus.CounterVec
	AgentInvocations   *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	// Use singleton pattern to avoid duplicate registration in tests
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	activeSessions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently accepting segments",
		},
	)

	segmentsIngested := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_ingested_total",
			Help:      "Total number of transcript segments ingested",
		},
	)

	outOfOrderAppends := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "out_of_order_appends_total",
			Help:      "Total number of appends with a regressed start time",
		},
	)

	sessionsFinalized := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finalized_total",
			Help:      "Total number of finalized sessions by trigger reason",
		},
		[]string{"reason"},
	)

	jobsRegistered := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_registered_total",
			Help:      "Total number of asynchronous jobs registered",
		},
		[]string{"kind"},
	)

	jobsTerminal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_terminal_total",
			Help:      "Total number of jobs reaching a terminal state",
		},
		[]string{"kind", "state"},
	)

	pendingJobs := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_jobs",
			Help:      "Number of jobs awaiting callback or sweep",
		},
	)

	extractionOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_outcomes_total",
			Help:      "Total number of extraction outcomes merged by kind and status",
		},
		[]string{"kind", "status"},
	)

	agentInvocations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_invocation_duration_seconds",
			Help:      "External agent invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "shape"},
	)

	registry.MustRegister(
		httpRequests,
		httpDuration,
		activeSessions,
		segmentsIngested,
		outOfOrderAppends,
		sessionsFinalized,
		jobsRegistered,
		jobsTerminal,
		pendingJobs,
		extractionOutcomes,
		agentInvocations,
	)

	globalCollector = &Collector{
		registry:           registry,
		HTTPRequests:       httpRequests,
		HTTPDuration:       httpDuration,
		ActiveSessions:     activeSessions,
		SegmentsIngested:   segmentsIngested,
		OutOfOrderAppends:  outOfOrderAppends,
		SessionsFinalized:  sessionsFinalized,
		JobsRegistered:     jobsRegistered,
		JobsTerminal:       jobsTerminal,
		PendingJobs:        pendingJobs,
		ExtractionOutcomes: extractionOutcomes,
		AgentInvocations:   agentInvocations,
	}
	return globalCollector
}

// Handler returns the HTTP handler exposing the /metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

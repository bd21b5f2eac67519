package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus instruments on a private registry so
// multiple instances (tests included) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	RequestDuration *prometheus.HistogramVec
	GrokRequests    *prometheus.CounterVec
	GrokTokens      prometheus.Counter
	GrokCostUSD     prometheus.Counter
	Backpressure    prometheus.Counter
	RateLimited     prometheus.Counter
	CacheHits       prometheus.Counter
	PreFiltered     prometheus.Counter
	Ingested        prometheus.Counter
	InsightsStored  prometheus.Counter
}

// NewMetrics creates and registers all instruments.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and path.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "path", "status"}),
		GrokRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grok_requests_total",
			Help: "Analysis calls to the Grok endpoint by outcome.",
		}, []string{"status"}),
		GrokTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grok_tokens_total",
			Help: "Total tokens consumed by analysis calls.",
		}),
		GrokCostUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grok_cost_usd_total",
			Help: "Estimated spend in USD across analysis calls.",
		}),
		Backpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_backpressure_total",
			Help: "Ingest requests refused because the analysis queue was full.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the per-client rate limit.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analysis_cache_hits_total",
			Help: "Analyses skipped because an identical thread was already analyzed.",
		}),
		PreFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analysis_prefiltered_total",
			Help: "Conversations skipped by the pre-filter before any Grok call.",
		}),
		Ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversations_ingested_total",
			Help: "Conversations accepted by the ingest endpoints.",
		}),
		InsightsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insights_stored_total",
			Help: "Insight rows written, skipped placeholders included.",
		}),
	}

	registry.MustRegister(
		m.RequestDuration,
		m.GrokRequests,
		m.GrokTokens,
		m.GrokCostUSD,
		m.Backpressure,
		m.RateLimited,
		m.CacheHits,
		m.PreFiltered,
		m.Ingested,
		m.InsightsStored,
	)
	return m
}

// RegisterQueueDepth exposes the analysis queue depth as a gauge sampled at
// scrape time.
func (m *Metrics) RegisterQueueDepth(depth func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "analysis_queue_depth",
		Help: "Conversations waiting for analysis.",
	}, depth))
}

// RegisterCircuitState exposes the breaker state as a gauge
// (0 closed, 1 open, 2 half-open).
func (m *Metrics) RegisterCircuitState(state func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "grok_circuit_state",
		Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
	}, state))
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

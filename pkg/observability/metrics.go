package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values shared by generation and webhook metrics
const (
	OutcomeSuccess      = "success"
	OutcomeFailed       = "failed"
	OutcomeInsufficient = "insufficient_credits"
	OutcomeDuplicate    = "duplicate"
	OutcomeIgnored      = "ignored"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Generation metrics
	GenerationsTotal      *prometheus.CounterVec
	GenerationDuration    *prometheus.HistogramVec
	GenerationsInFlight   prometheus.Gauge
	LLMStreamDuration     *prometheus.HistogramVec
	LLMOutputTokensTotal  *prometheus.CounterVec

	// Credit metrics
	CreditsDeductedTotal   *prometheus.CounterVec
	CreditsRefundedTotal   *prometheus.CounterVec
	CreditsGrantedTotal    *prometheus.CounterVec
	RefundFailuresTotal    prometheus.Counter
	ReconciliationsPending prometheus.Gauge
	ReconciliationsTotal   *prometheus.CounterVec

	// Billing metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Rate limiting
	RateLimitedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prdforge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prdforge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prdforge_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		GenerationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prdforge_generations_total",
				Help: "Total number of PRD generations and revisions by outcome",
			},
			[]string{"kind", "outcome"},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prdforge_generation_duration_seconds",
				Help:    "End-to-end generation duration in seconds",
				Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		GenerationsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prdforge_generations_in_flight",
				Help: "Number of generations currently streaming",
			},
		),
		LLMStreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prdforge_llm_stream_duration_seconds",
				Help:    "Duration of LLM completion streams in seconds",
				Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"model", "status"},
		),
		LLMOutputTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prdforge_llm_output_tokens_total",
				Help: "Total number of output tokens reported by the LLM provider",
			},
			[]string{"model"},
		),

		CreditsDeductedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prdforge_credits_deducted_total",
				Help: "Total credits deducted",
			},
			[]string{"pool"},
		),
		CreditsRefundedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prdforge_credits_refunded_total",
				Help: "Total credits refunded after failed work",
			},
			[]string{"pool"},
		),
		CreditsGrantedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prdforge_credits_granted_total",
				Help: "Total credits granted by purchases, subscriptions and bonuses",
			},
			[]string{"pool", "source"},
		),
		RefundFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "prdforge_refund_failures_total",
				Help: "Total refunds that failed and were queued for reconciliation",
			},
		),
		ReconciliationsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prdforge_reconciliations_pending",
				Help: "Number of unresolved credit reconciliations",
			},
		),
		ReconciliationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prdforge_reconciliations_total",
				Help: "Total reconciliation attempts by outcome",
			},
			[]string{"outcome"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prdforge_webhook_events_total",
				Help: "Total billing webhook events by event name and outcome",
			},
			[]string{"event", "outcome"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prdforge_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prdforge_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prdforge_rate_limited_total",
				Help: "Total requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.GenerationsTotal,
		m.GenerationDuration,
		m.GenerationsInFlight,
		m.LLMStreamDuration,
		m.LLMOutputTokensTotal,
		m.CreditsDeductedTotal,
		m.CreditsRefundedTotal,
		m.CreditsGrantedTotal,
		m.RefundFailuresTotal,
		m.ReconciliationsPending,
		m.ReconciliationsTotal,
		m.WebhookEventsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.RateLimitedTotal,
	)

	return m
}

// NewNopMetrics returns metrics registered against a throwaway registry.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// Flush lets SSE handlers stream through the metrics wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// The path label uses the mux route template so IDs do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := routeTemplate(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

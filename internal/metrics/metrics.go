package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderping_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderping_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	ordersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderping_orders_created_total",
			Help: "Total orders created by workspace",
		},
		[]string{"workspace_id"},
	)

	messagesEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderping_messages_enqueued_total",
			Help: "Total outbox messages enqueued by template code",
		},
		[]string{"template_code"},
	)

	messagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderping_messages_dispatched_total",
			Help: "Outbox messages processed by the dispatcher, by outcome",
		},
		[]string{"outcome"},
	)

	dispatchBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderping_dispatch_batch_size",
			Help:    "Number of outbox rows claimed per dispatcher run",
			Buckets: []float64{0, 1, 2, 5, 10},
		},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderping_webhook_events_total",
			Help: "Inbound webhook events by source and kind",
		},
		[]string{"source", "kind"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderping_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"workspace_id"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordOrderCreated records a newly created order.
func RecordOrderCreated(workspaceID string) {
	ordersCreated.WithLabelValues(workspaceID).Inc()
}

// RecordMessageEnqueued records an outbox enqueue.
func RecordMessageEnqueued(templateCode string) {
	messagesEnqueued.WithLabelValues(templateCode).Inc()
}

// RecordMessageDispatched records a dispatcher outcome (sent, failed, dead).
func RecordMessageDispatched(outcome string) {
	messagesDispatched.WithLabelValues(outcome).Inc()
}

// RecordDispatchBatch records how many rows one dispatcher run claimed.
func RecordDispatchBatch(n int) {
	dispatchBatchSize.Observe(float64(n))
}

// RecordWebhookEvent records an inbound webhook event.
func RecordWebhookEvent(source, kind string) {
	webhookEvents.WithLabelValues(source, kind).Inc()
}

// RecordRateLimitRejection records a rate limit rejection.
func RecordRateLimitRejection(workspaceID string) {
	rateLimitRejections.WithLabelValues(workspaceID).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifier_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"method", "path"},
	)

	messagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_messages_dispatched_total",
			Help: "Messages attempted by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	channelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifier_channel_latency_seconds",
			Help:    "Time spent in a single channel delivery attempt",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 15},
		},
		[]string{"channel"},
	)

	whatsAppFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_whatsapp_web_fallbacks_total",
			Help: "WhatsApp API failures answered with a Web link",
		},
	)

	automationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_automation_decisions_total",
			Help: "Automation decisions by notification kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_sweep_runs_total",
			Help: "Reminder sweep runs by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	remindersSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_reminders_sent_total",
			Help: "Payment reminders sent by sweep kind",
		},
		[]string{"kind"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notifier_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	eventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_entity_events_consumed_total",
			Help: "ERP entity events read from SQS by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_sqs_messages_in_flight",
			Help: "Current messages being processed from SQS",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_idempotency_hits_total",
			Help: "Manual sends served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"client"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMessage counts one channel attempt. status is "sent" or "failed".
func RecordMessage(channel, status string) {
	messagesDispatched.WithLabelValues(channel, status).Inc()
}

func RecordChannelLatency(channel string, d time.Duration) {
	channelLatency.WithLabelValues(channel).Observe(d.Seconds())
}

func RecordWhatsAppFallback() {
	whatsAppFallbacks.Inc()
}

// RecordDecision counts automation outcomes: "sent", "skipped", "failed".
func RecordDecision(kind, outcome string) {
	automationDecisions.WithLabelValues(kind, outcome).Inc()
}

func RecordSweep(kind, outcome string, sent int) {
	sweepRuns.WithLabelValues(kind, outcome).Inc()
	if sent > 0 {
		remindersSent.WithLabelValues(kind).Add(float64(sent))
	}
}

func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

func RecordEventConsumed(eventType, outcome string) {
	eventsConsumed.WithLabelValues(eventType, outcome).Inc()
}

func SetSQSMessagesInFlight(count int) {
	sqsMessagesInFlight.Set(float64(count))
}

func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

func RecordRateLimitRejection(client string) {
	rateLimitRejections.WithLabelValues(client).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled by the chi route pattern,
// so /v1/messages/{id} stays one series.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stripe_facade"

// Registry holds every collector exposed on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// UpstreamCalls counts processor calls by operation and outcome (ok, validation, not_found, payment, upstream, timeout).
	UpstreamCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_calls_total",
		Help:      "Calls made to the payment processor.",
	}, []string{"operation", "outcome"})

	UpstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_call_duration_seconds",
		Help:      "Latency of payment processor calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// WebhookEvents counts webhook deliveries by event type and result (dispatched, unhandled, failed, rejected).
	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Webhook events received from the payment processor.",
	}, []string{"type", "result"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests served.",
	}, []string{"method", "path", "status"})
)

func init() {
	Registry.MustRegister(
		UpstreamCalls,
		UpstreamDuration,
		WebhookEvents,
		HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveUpstream records one processor call.
func ObserveUpstream(operation, outcome string, started time.Time) {
	UpstreamCalls.WithLabelValues(operation, outcome).Inc()
	UpstreamDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

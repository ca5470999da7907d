// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry every tenantgate collector is registered with.
var Registry = prometheus.NewRegistry()

var (
	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_auth_attempts_total",
			Help: "Authentication attempts by credential kind and outcome reason.",
		},
		[]string{"kind", "outcome"},
	)

	accessDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_access_denied_total",
			Help: "Authorization denials by reason.",
		},
		[]string{"reason"},
	)

	auditWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_audit_writes_total",
			Help: "Audit entry writes by result.",
		},
		[]string{"result"},
	)

	rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantgate_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	})

	panicsRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantgate_panics_recovered_total",
		Help: "Handler panics turned into 500 responses.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantgate_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		authAttempts, accessDenied, auditWrites, rateLimited, panicsRecovered,
		httpRequestsTotal, httpRequestDuration,
	)
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// AuthAttempt counts one authentication attempt. outcome is "success" or a
// failure reason tag.
func AuthAttempt(kind, outcome string) {
	authAttempts.WithLabelValues(kind, outcome).Inc()
}

func AccessDenied(reason string) {
	accessDenied.WithLabelValues(reason).Inc()
}

func AuditWrite(ok bool) {
	if ok {
		auditWrites.WithLabelValues("ok").Inc()
		return
	}
	auditWrites.WithLabelValues("failed").Inc()
}

func RateLimited() {
	rateLimited.Inc()
}

func PanicRecovered() {
	panicsRecovered.Inc()
}

// ObserveRequest records one served HTTP request. route should be the
// router pattern, not the raw path, to keep label cardinality bounded.
func ObserveRequest(method, route, status string, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// Package metrics provides Prometheus metrics for the router.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for registry latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds all Prometheus metric collectors for the router.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamErrors    *prometheus.CounterVec

	AdminBlocked    prometheus.Counter
	TarballRewrites *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_router_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_kind"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_router_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_kind"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "registry_router_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_router_upstream_request_duration_seconds",
			Help:    "Registry call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"registry", "method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_router_upstream_responses_total",
			Help: "Total registry responses by registry, method and status code.",
		}, []string{"registry", "method", "status_code"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_router_upstream_errors_total",
			Help: "Registry calls that failed before or while reading a response.",
		}, []string{"registry", "kind"}),

		AdminBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "registry_router_admin_blocked_total",
			Help: "Requests denied because they targeted an administrative path.",
		}),

		TarballRewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_router_tarball_rewrites_total",
			Help: "Tarball URLs re-hosted to the vhost in metadata responses.",
		}, []string{"registry"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamErrors,
		m.AdminBlocked,
		m.TarballRewrites,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// NormalizePath returns a bounded label describing what kind of path was
// requested. Package names never appear in labels.
func NormalizePath(path string) string {
	switch {
	case path == "" || path == "/":
		return "root"
	case strings.HasPrefix(path, "/-/proxy/"):
		return "proxy"
	case strings.HasPrefix(path, "/-/"):
		return "special"
	case strings.HasPrefix(path, "/_"):
		return "admin"
	case strings.Contains(path, "/-/"):
		return "tarball"
	case strings.HasPrefix(path, "/@"):
		return "scoped_package"
	default:
		return "package"
	}
}

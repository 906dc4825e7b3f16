// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kairo_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kairo_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	provisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kairo_provision_duration_seconds",
		Help:    "Duration of instance provisioning attempts",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
	}, []string{"result"})

	teardownOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kairo_teardown_operations_total",
		Help: "Count of instance teardown operations by source and result",
	}, []string{"source", "result"})

	tokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kairo_token_refreshes_total",
		Help: "Count of provider access token refreshes",
	}, []string{"provider", "result"})

	oauthCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kairo_oauth_callbacks_total",
		Help: "Count of OAuth callbacks by provider and outcome",
	}, []string{"provider", "outcome"})
)

// ObserveHTTPRequest records an HTTP request metric.
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveProvision records the duration of a provisioning attempt with a result label.
func ObserveProvision(result string, duration time.Duration) {
	provisionDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveTeardown increments the teardown counter. source is "api" or "webhook".
func ObserveTeardown(source, result string) {
	teardownOperations.WithLabelValues(source, result).Inc()
}

func ObserveTokenRefresh(provider, result string) {
	tokenRefreshes.WithLabelValues(provider, result).Inc()
}

func ObserveOAuthCallback(provider, outcome string) {
	oauthCallbacks.WithLabelValues(provider, outcome).Inc()
}

package handlers

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lens_webui_connections_active",
		Help: "Number of active WebSocket connections",
	})

	totalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_webui_requests_total",
		Help: "Total number of HTTP requests by path and status code",
	}, []string{"path", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lens_webui_request_duration_seconds",
		Help:    "HTTP request duration",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"path"})

	totalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_webui_errors_total",
		Help: "Total API errors by type",
	}, []string{"type"})
)

func recordRequest(path string, status int, d time.Duration) {
	totalRequests.WithLabelValues(path, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(path).Observe(d.Seconds())
}

// RecordError counts an API error of the given type.
func RecordError(errType string) {
	totalErrors.WithLabelValues(errType).Inc()
}

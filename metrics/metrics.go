package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membrane_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "membrane_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Token metrics
	tokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "membrane_verification_tokens_issued_total",
			Help: "Total number of verification tokens issued",
		},
	)

	tokensVerified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membrane_tokens_verified_total",
			Help: "Total number of token verifications",
		},
		[]string{"kind", "outcome"}, // kind: client, verification; outcome: ok, rejected
	)

	// Email metrics
	emailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membrane_verification_emails_total",
			Help: "Total number of verification emails",
		},
		[]string{"status"}, // sent, failed
	)

	emailSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "membrane_email_send_duration_seconds",
			Help:    "Verification email delivery duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 180},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "membrane_websocket_connections",
			Help: "Number of frontends waiting on a login over WebSocket",
		},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membrane_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"}, // token, email, database, redis
	)
)

// PrometheusMiddleware creates a Fiber middleware for Prometheus metrics
func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		// Record metrics
		duration := time.Since(start).Seconds()
		method := c.Method()
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// IncrementTokensIssued counts an issued verification token
func IncrementTokensIssued() {
	tokensIssued.Inc()
}

// RecordTokenVerification counts a token verification attempt
func RecordTokenVerification(kind, outcome string) {
	tokensVerified.WithLabelValues(kind, outcome).Inc()
}

// RecordEmail records the outcome and duration of a verification email
func RecordEmail(status string, duration time.Duration) {
	emailsTotal.WithLabelValues(status).Inc()
	emailSendDuration.Observe(duration.Seconds())
}

// UpdateWebSocketConnections updates the WebSocket connections gauge
func UpdateWebSocketConnections(count int) {
	websocketConnections.Set(float64(count))
}

// IncrementError increments the error counter
func IncrementError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

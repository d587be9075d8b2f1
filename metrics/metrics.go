// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts requests entering the pipeline by action.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_requests_total",
			Help: "Total number of order requests by action",
		},
		[]string{"action", "instrument"},
	)

	// ResponsesTotal counts responses leaving the pipeline by status.
	ResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_responses_total",
			Help: "Total number of order responses by status",
		},
		[]string{"status", "instrument"},
	)

	// TradesTotal counts trade reports, two per fill.
	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_trades_total",
			Help: "Total number of trade reports by instrument",
		},
		[]string{"instrument"},
	)

	// TradedVolume sums traded quantity on the aggressor and resting side.
	TradedVolume = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_traded_volume_total",
			Help: "Total traded quantity by instrument and direction",
		},
		[]string{"instrument", "direction"},
	)

	// PipelinePasses counts interceptor passes by message kind and outcome.
	PipelinePasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_pipeline_passes_total",
			Help: "Total number of interceptor passes by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// PipelinePassDuration tracks how long one pass through the interceptors takes.
	PipelinePassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradecore_pipeline_pass_duration_seconds",
			Help:    "Interceptor pass duration in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.1, 1},
		},
		[]string{"kind"},
	)

	// PipelineQueueDepth tracks messages waiting for the pipeline worker.
	PipelineQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradecore_pipeline_queue_depth",
			Help: "Messages waiting in the pipeline queues",
		},
		[]string{"queue"},
	)

	// SessionsActive tracks connected sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecore_sessions_active",
			Help: "Number of connected sessions",
		},
	)

	// RoutingErrors counts reports that could not be routed to a session.
	RoutingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_routing_errors_total",
			Help: "Reports dropped because no session owns the order",
		},
		[]string{"kind"},
	)

	// HTTPRequestDuration tracks request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path", "status"},
	)
)

// PrometheusMiddleware records request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
		).Observe(duration)
	}
}

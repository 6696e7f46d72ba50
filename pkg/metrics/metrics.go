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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// AdmissionDecisions counts admission outcomes by direction and reason ("allowed" on allow).
	AdmissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_admission_decisions_total",
			Help: "Admission decisions by direction and reason",
		},
		[]string{"direction", "reason"},
	)

	// StatusEvents counts carrier status callbacks by reported status and how they were applied.
	StatusEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_status_events_total",
			Help: "Carrier status events by status and outcome",
		},
		[]string{"status", "outcome"},
	)

	// Deductions counts ledger deductions; duplicate=true means an idempotent replay.
	Deductions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_deductions_total",
			Help: "Credit deductions applied at call completion",
		},
		[]string{"direction", "duplicate"},
	)

	// AlertsEmitted counts threshold alerts by level and publish result.
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_credit_alerts_total",
			Help: "Credit threshold alerts by level and result",
		},
		[]string{"level", "result"},
	)

	// AgentClaimConflicts counts compare-and-set losses while assigning agents.
	AgentClaimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_agent_claim_conflicts_total",
			Help: "Agent assignment compare-and-set losses",
		},
	)

	// RoutingOutcomes counts inbound routing decisions by action.
	RoutingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_routing_outcomes_total",
			Help: "Inbound routing decisions by action",
		},
		[]string{"action"},
	)
)

// Middleware records basic HTTP metrics for gin.
// Labels are kept low-cardinality by using the matched route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

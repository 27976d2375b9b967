// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"classledger/internal/apperrors"
)

const namespace = "classledger"

// Metrics groups the collectors of one process.
type Metrics struct {
	// LedgerOps counts ledger operations. Labels: op, result (ok or an error code).
	LedgerOps *prometheus.CounterVec

	// TxRetries counts store transactions rerun after a conflict.
	TxRetries prometheus.Counter

	// ReconcileJobs counts worker jobs. Labels: result (ok, changed or an error code).
	ReconcileJobs *prometheus.CounterVec

	// HTTPDuration measures request latency. Labels: method, route, status.
	HTTPDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LedgerOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations by operation and result",
			},
			[]string{"op", "result"},
		),
		TxRetries: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "tx_retries_total",
				Help:      "Transactions retried after a write conflict",
			},
		),
		ReconcileJobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "reconcile_jobs_total",
				Help:      "Reconcile jobs processed by result",
			},
			[]string{"result"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "route", "status"},
		),
	}
}

// ObserveOp records the outcome of a ledger operation.
func (m *Metrics) ObserveOp(op string, err error) {
	m.LedgerOps.WithLabelValues(op, apperrors.Code(err)).Inc()
}

// TxRetryHook fits docstore.Options.OnRetry.
func (m *Metrics) TxRetryHook() func(attempt int, err error) {
	return func(int, error) { m.TxRetries.Inc() }
}

// Middleware observes request latency by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

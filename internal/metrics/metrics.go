package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the settlement collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"method", "path"},
	)

	quotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "orchestrator",
			Name:      "quotes_total",
			Help:      "Quote requests by payment method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	confirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "orchestrator",
			Name:      "confirmations_total",
			Help:      "Settlement confirmations by outcome.",
		},
		[]string{"outcome"},
	)

	ledgerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "ledger",
			Name:      "requests_total",
			Help:      "Ledger API calls by operation and outcome.",
		},
		[]string{"call", "outcome"},
	)

	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "ledger",
			Name:      "request_duration_seconds",
			Help:      "Duration of ledger API calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 11),
		},
		[]string{"call"},
	)

	oracleRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "oracle",
			Name:      "requests_total",
			Help:      "Price oracle lookups by rate and outcome.",
		},
		[]string{"rate", "outcome"},
	)

	reconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation sweeps by outcome.",
		},
		[]string{"outcome"},
	)

	reconcileRepairs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "reconcile",
			Name:      "repaired_records_total",
			Help:      "Buyer records inserted by the reconciliation sweep.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		quotes,
		confirmations,
		ledgerRequests,
		ledgerDuration,
		oracleRequests,
		reconcileRuns,
		reconcileRepairs,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordQuote(method, outcome string) {
	quotes.WithLabelValues(method, outcome).Inc()
}

func RecordConfirmation(outcome string) {
	confirmations.WithLabelValues(outcome).Inc()
}

func RecordLedgerCall(call, outcome string, duration time.Duration) {
	ledgerRequests.WithLabelValues(call, outcome).Inc()
	ledgerDuration.WithLabelValues(call).Observe(duration.Seconds())
}

func RecordOracleCall(rate, outcome string) {
	oracleRequests.WithLabelValues(rate, outcome).Inc()
}

func RecordReconcileRun(outcome string, repaired int) {
	reconcileRuns.WithLabelValues(outcome).Inc()
	reconcileRepairs.Add(float64(repaired))
}

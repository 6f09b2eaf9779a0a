// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Fund lifecycle metrics
	FundsCreated  prometheus.Counter
	Applications  *prometheus.CounterVec
	Votes         *prometheus.CounterVec
	Distributions *prometheus.CounterVec

	// Ledger metrics
	Transfers        *prometheus.CounterVec
	TransferDuration prometheus.Histogram
	RPCCallLatency   *prometheus.HistogramVec

	// Escrow metrics
	VaultBalance      prometheus.Gauge
	EscrowOutstanding prometheus.Gauge

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Journal metrics
	JournalErrors prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "edufund"
	}

	return &Metrics{
		FundsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "funds_created_total",
			Help:      "Total number of funds created",
		}),
		Applications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applications_total",
			Help:      "Total number of application submissions by result code",
		}, []string{"result"}),
		Votes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Total number of vote attempts by result code",
		}, []string{"result"}),
		Distributions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributions_total",
			Help:      "Total number of distribution runs by result code",
		}, []string{"result"}),

		Transfers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Total number of ledger transfer attempts by result",
		}, []string{"result"}),
		TransferDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Ledger transfer duration including confirmation",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_latency_seconds",
			Help:      "Ledger JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		VaultBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vault_balance",
			Help:      "Vault balance in whole asset units at the last solvency check",
		}),
		EscrowOutstanding: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "escrow_outstanding",
			Help:      "Unpaid escrow liability of active funds in whole asset units",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		JournalErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "append_errors_total",
			Help:      "Total number of payout journal append failures",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFundCreated increments the funds created counter.
func RecordFundCreated() {
	DefaultMetrics.FundsCreated.Inc()
}

// RecordApplication records an application submission outcome.
func RecordApplication(result string) {
	DefaultMetrics.Applications.WithLabelValues(result).Inc()
}

// RecordVote records a vote outcome.
func RecordVote(result string) {
	DefaultMetrics.Votes.WithLabelValues(result).Inc()
}

// RecordDistribution records a distribution run outcome.
func RecordDistribution(result string) {
	DefaultMetrics.Distributions.WithLabelValues(result).Inc()
}

// RecordTransfer records a ledger transfer attempt.
func RecordTransfer(result string, seconds float64) {
	DefaultMetrics.Transfers.WithLabelValues(result).Inc()
	DefaultMetrics.TransferDuration.Observe(seconds)
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// UpdateEscrow sets the vault balance and outstanding liability gauges.
func UpdateEscrow(vaultBalance, outstanding float64) {
	DefaultMetrics.VaultBalance.Set(vaultBalance)
	DefaultMetrics.EscrowOutstanding.Set(outstanding)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, route, status string, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(method, route, status).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordJournalError increments the journal error counter.
func RecordJournalError() {
	DefaultMetrics.JournalErrors.Inc()
}

// ResultLabel maps an error to a metric label: "ok", the domain error
// code, or "error".
func ResultLabel(code string, err error) string {
	if err == nil {
		return "ok"
	}
	if code != "" {
		return code
	}
	return "error"
}

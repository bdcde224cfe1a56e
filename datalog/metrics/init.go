package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransactorMetrics() {
	r.TransactionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cliodb_transactions_total",
			Help: "Total number of transactions processed, by outcome",
		},
		[]string{"status"},
	)

	r.TransactionDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cliodb_transaction_duration_seconds",
			Help:    "Time from dequeue to reply for each transaction",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	r.DatomsCommitted = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "cliodb_datoms_committed_total",
			Help: "Total number of datoms written by committed transactions",
		},
	)

	r.QueueDepth = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "cliodb_transactor_queue_depth",
			Help: "Transactions waiting for the writer",
		},
	)

	r.BasisT = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "cliodb_basis_t",
			Help: "Last committed transaction id",
		},
	)
}

func (r *Registry) initIndexMetrics() {
	r.OverlayDatoms = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "cliodb_overlay_datoms",
			Help: "Datoms in the in-memory overlay awaiting reindex",
		},
	)

	r.ReindexTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cliodb_reindex_total",
			Help: "Total number of reindex runs, by outcome",
		},
		[]string{"status"},
	)

	r.ReindexDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cliodb_reindex_duration_seconds",
			Help:    "Reindex duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 60.0},
		},
	)
}

func (r *Registry) initQueryMetrics() {
	r.QueriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cliodb_queries_total",
			Help: "Total number of queries executed, by outcome",
		},
		[]string{"status"},
	)

	r.QueryDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cliodb_query_duration_seconds",
			Help:    "Query execution duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	r.DatomsScanned = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cliodb_query_datoms_scanned",
			Help:    "Number of datoms read from the indexes per query",
			Buckets: []float64{10, 100, 1000, 10000, 100000, 1000000},
		},
	)
}

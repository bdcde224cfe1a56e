// Package metrics exposes transactor and query engine metrics through a
// prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transaction outcomes used as the status label.
const (
	StatusCommitted = "committed"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
	StatusOK        = "ok"
	StatusError     = "error"
)

// Registry holds all metrics for a cliodb process. All Record methods are
// safe to call on a nil *Registry, which records nothing.
type Registry struct {
	// Transactor Metrics
	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration prometheus.Histogram
	DatomsCommitted     prometheus.Counter
	QueueDepth          prometheus.Gauge
	BasisT              prometheus.Gauge

	// Index Metrics
	OverlayDatoms   prometheus.Gauge
	ReindexTotal    *prometheus.CounterVec
	ReindexDuration prometheus.Histogram

	// Query Metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration prometheus.Histogram
	DatomsScanned prometheus.Histogram

	registry *prometheus.Registry
}

// NewRegistry creates a registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initTransactorMetrics()
	r.initIndexMetrics()
	r.initQueryMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

package metrics

import "time"

// RecordTransaction records one processed transaction
func (r *Registry) RecordTransaction(status string, duration time.Duration, datoms int) {
	if r == nil {
		return
	}
	r.TransactionsTotal.WithLabelValues(status).Inc()
	r.TransactionDuration.Observe(duration.Seconds())
	if status == StatusCommitted {
		r.DatomsCommitted.Add(float64(datoms))
	}
}

// SetQueueDepth records how many transactions are waiting
func (r *Registry) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.QueueDepth.Set(float64(n))
}

// SetDatabase records the state of the latest published database
func (r *Registry) SetDatabase(basisT uint64, overlay int) {
	if r == nil {
		return
	}
	r.BasisT.Set(float64(basisT))
	r.OverlayDatoms.Set(float64(overlay))
}

// RecordReindex records a reindex run
func (r *Registry) RecordReindex(err error, duration time.Duration) {
	if r == nil {
		return
	}
	r.ReindexTotal.WithLabelValues(statusOf(err)).Inc()
	r.ReindexDuration.Observe(duration.Seconds())
}

// RecordQuery records a query execution
func (r *Registry) RecordQuery(err error, duration time.Duration, scanned int) {
	if r == nil {
		return
	}
	r.QueriesTotal.WithLabelValues(statusOf(err)).Inc()
	r.QueryDuration.Observe(duration.Seconds())
	r.DatomsScanned.Observe(float64(scanned))
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

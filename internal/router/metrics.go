package router

import "time"

// Metrics aggregates execution counters across the router's lifetime.
type Metrics struct {
	Attempts  int64
	Confirmed int64
	Failed    int64

	totalConfirmLatency time.Duration
}

// AvgConfirmLatency is the mean wall time from txPending to txConfirmed.
func (m Metrics) AvgConfirmLatency() time.Duration {
	if m.Confirmed == 0 {
		return 0
	}
	return m.totalConfirmLatency / time.Duration(m.Confirmed)
}

// Metrics returns a snapshot of the aggregate counters.
func (r *Router) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

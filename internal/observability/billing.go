package observability

import "github.com/prometheus/client_golang/prometheus"

// BillingMetrics counts bill lifecycle events.
type BillingMetrics struct {
	created *prometheus.CounterVec
	deleted *prometheus.CounterVec
	skipped prometheus.Counter
}

// NewBillingMetrics registers the billing collectors on registerer.
func NewBillingMetrics(registerer prometheus.Registerer) *BillingMetrics {
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_bills_created_total",
		Help: "Bills committed, by kind.",
	}, []string{"kind"})
	deleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_bills_deleted_total",
		Help: "Bills deleted with their stock movements reversed, by kind.",
	}, []string{"kind"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradeledger_stock_reversals_skipped_total",
		Help: "Line reversals skipped because the stock item was soft-deleted.",
	})
	registerer.MustRegister(created, deleted, skipped)
	return &BillingMetrics{created: created, deleted: deleted, skipped: skipped}
}

// BillCreated increments the created counter for kind.
func (m *BillingMetrics) BillCreated(kind string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(kind).Inc()
}

// BillDeleted increments the deleted counter for kind.
func (m *BillingMetrics) BillDeleted(kind string) {
	if m == nil {
		return
	}
	m.deleted.WithLabelValues(kind).Inc()
}

// ReversalsSkipped adds n skipped reversals.
func (m *BillingMetrics) ReversalsSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.skipped.Add(float64(n))
}

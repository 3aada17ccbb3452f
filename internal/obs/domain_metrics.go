package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the billing counters.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultInvalid  = "invalid"
	ResultError    = "error"
)

// BillingMetrics groups the domain collectors of the billing service. A nil
// *BillingMetrics records nothing.
type BillingMetrics struct {
	Calculations     *prometheus.CounterVec
	Payments         *prometheus.CounterVec
	GrandTotalMinor  prometheus.Histogram
	SettlementEvents *prometheus.CounterVec
}

// NewBillingMetrics registers the billing collectors on reg, falling back to
// the default registerer.
func NewBillingMetrics(namespace string, reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &BillingMetrics{
		Calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_calculations_total",
			Help:      "Invoice calculations by discount mode and outcome.",
		}, []string{"mode", "result"}),
		Payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_payments_total",
			Help:      "Payment validations and recordings by outcome.",
		}, []string{"result"}),
		GrandTotalMinor: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "billing_grand_total_minor",
			Help:      "Distribution of computed grand totals in minor currency units.",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		}),
		SettlementEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_settlement_events_total",
			Help:      "Settlement events published or handled, by topic and outcome.",
		}, []string{"topic", "result"}),
	}
	m.Calculations = RegisterOrReuse(reg, m.Calculations)
	m.Payments = RegisterOrReuse(reg, m.Payments)
	m.GrandTotalMinor = RegisterOrReuse(reg, m.GrandTotalMinor)
	m.SettlementEvents = RegisterOrReuse(reg, m.SettlementEvents)
	return m
}

// ObserveCalculation counts one calculation and, on success, its grand total.
func (m *BillingMetrics) ObserveCalculation(mode, result string, grandTotalMinor int64) {
	if m == nil {
		return
	}
	m.Calculations.WithLabelValues(mode, result).Inc()
	if result == ResultOK {
		m.GrandTotalMinor.Observe(float64(grandTotalMinor))
	}
}

// ObservePayment counts one payment outcome.
func (m *BillingMetrics) ObservePayment(result string) {
	if m == nil {
		return
	}
	m.Payments.WithLabelValues(result).Inc()
}

// ObserveEvent counts one settlement event outcome.
func (m *BillingMetrics) ObserveEvent(topic, result string) {
	if m == nil {
		return
	}
	m.SettlementEvents.WithLabelValues(topic, result).Inc()
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type SettlementMetrics struct {
	settlements   prometheus.Counter
	settledValue  prometheus.Counter
	groupFailures *prometheus.CounterVec
	deposits      prometheus.Counter
	escrowBalance prometheus.Gauge
	claims        prometheus.Counter
	accruals      prometheus.Counter
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// Settlement returns the process-wide settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pharmaclear",
				Name:      "settlements_total",
				Help:      "Count of successfully settled rebate claims.",
			}),
			settledValue: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pharmaclear",
				Name:      "settled_value_microunits_total",
				Help:      "Total rebate value settled, in micro-units.",
			}),
			groupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pharmaclear",
				Name:      "group_failures_total",
				Help:      "Count of aborted atomic groups by failure kind.",
			}, []string{"reason"}),
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pharmaclear",
				Name:      "escrow_deposits_total",
				Help:      "Count of escrow funding deposits.",
			}),
			escrowBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pharmaclear",
				Name:      "escrow_balance_microunits",
				Help:      "Current pooled escrow balance, in micro-units.",
			}),
			claims: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pharmaclear",
				Name:      "claims_registered_total",
				Help:      "Count of claims accepted by the registry.",
			}),
			accruals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pharmaclear",
				Name:      "rebate_accruals_total",
				Help:      "Count of rebate accruals recorded by the calculator.",
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.settlements,
			settlementRegistry.settledValue,
			settlementRegistry.groupFailures,
			settlementRegistry.deposits,
			settlementRegistry.escrowBalance,
			settlementRegistry.claims,
			settlementRegistry.accruals,
		)
	})
	return settlementRegistry
}

func (m *SettlementMetrics) RecordSettlement(rebateAmount uint64) {
	if m == nil {
		return
	}
	m.settlements.Inc()
	m.settledValue.Add(float64(rebateAmount))
}

func (m *SettlementMetrics) RecordGroupFailure(reason string) {
	if m == nil {
		return
	}
	m.groupFailures.WithLabelValues(reason).Inc()
}

func (m *SettlementMetrics) RecordDeposit() {
	if m == nil {
		return
	}
	m.deposits.Inc()
}

func (m *SettlementMetrics) SetEscrowBalance(balance float64) {
	if m == nil {
		return
	}
	m.escrowBalance.Set(balance)
}

func (m *SettlementMetrics) RecordClaim() {
	if m == nil {
		return
	}
	m.claims.Inc()
}

func (m *SettlementMetrics) RecordAccrual() {
	if m == nil {
		return
	}
	m.accruals.Inc()
}

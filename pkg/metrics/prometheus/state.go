package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vfscache/corefs/pkg/metrics"
)

type stateMetrics struct {
	clients           prometheus.Gauge
	delegations       prometheus.Gauge
	leaseExpiries     prometheus.Counter
	delegationRecalls *prometheus.CounterVec
	gracePeriodActive prometheus.Gauge
}

func newStateMetrics() metrics.StateMetrics {
	reg := metrics.GetRegistry()

	return &stateMetrics{
		clients: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "corefs_state_clients",
				Help: "Current number of tracked client records",
			},
		),
		delegations: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "corefs_state_delegations",
				Help: "Current number of outstanding delegations",
			},
		),
		leaseExpiries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "corefs_state_lease_expiries_total",
				Help: "Total number of client leases that expired without renewal",
			},
		),
		delegationRecalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "corefs_state_delegation_recalls_total",
				Help: "Delegation recalls by outcome",
			},
			[]string{"outcome"}, // "started", "returned", "revoked"
		),
		gracePeriodActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "corefs_state_grace_period_active",
				Help: "1 while the registry is within its post-restart grace period",
			},
		),
	}
}

func (m *stateMetrics) RecordClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

func (m *stateMetrics) RecordDelegations(n int) {
	if m == nil {
		return
	}
	m.delegations.Set(float64(n))
}

func (m *stateMetrics) RecordLeaseExpiry() {
	if m == nil {
		return
	}
	m.leaseExpiries.Inc()
}

func (m *stateMetrics) RecordDelegationRecall(outcome string) {
	if m == nil {
		return
	}
	m.delegationRecalls.WithLabelValues(outcome).Inc()
}

func (m *stateMetrics) RecordGracePeriod(active bool) {
	if m == nil {
		return
	}
	if active {
		m.gracePeriodActive.Set(1)
	} else {
		m.gracePeriodActive.Set(0)
	}
}

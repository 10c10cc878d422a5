package metrics

// StateMetrics observes the client/lease/delegation registry.
type StateMetrics interface {
	// RecordClients records the number of tracked client records.
	RecordClients(n int)

	// RecordDelegations records the number of outstanding delegations.
	RecordDelegations(n int)

	// RecordLeaseExpiry records a client lease expiring without renewal.
	RecordLeaseExpiry()

	// RecordDelegationRecall records a delegation recall, tagged by outcome
	// ("started" when the recall is issued, then "returned" or "revoked").
	RecordDelegationRecall(outcome string)

	// RecordGracePeriod records whether the registry is currently within its
	// post-restart grace period.
	RecordGracePeriod(active bool)
}

var newPrometheusStateMetrics func() StateMetrics

// RegisterStateMetricsConstructor is called by pkg/metrics/prometheus to
// install its concrete StateMetrics implementation.
func RegisterStateMetricsConstructor(constructor func() StateMetrics) {
	newPrometheusStateMetrics = constructor
}

// NewStateMetrics returns a Prometheus-backed StateMetrics, or nil if
// metrics are disabled.
func NewStateMetrics() StateMetrics {
	if !IsEnabled() || newPrometheusStateMetrics == nil {
		return nil
	}
	return newPrometheusStateMetrics()
}

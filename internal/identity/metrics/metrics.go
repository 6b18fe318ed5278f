package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identity registry module.
// Tracks registration volume, recovery lifecycle counts, and critical path durations.
type Metrics struct {
	IdentitiesRegistered prometheus.Counter
	IdentityUpdates      prometheus.Counter
	RecoveriesInitiated  prometheus.Counter
	RecoveryApprovals    prometheus.Counter
	RecoveriesCompleted  prometheus.Counter
	RegisterDuration     prometheus.Histogram
	RecoveryDuration     prometheus.Histogram
}

// New creates a new Metrics instance with all registry module metrics registered.
// Construct once per process; promauto registers against the default registry.
func New() *Metrics {
	return &Metrics{
		IdentitiesRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_identities_registered_total",
			Help: "Total number of identity records registered",
		}),
		IdentityUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_identity_updates_total",
			Help: "Total number of successful identity name updates",
		}),
		RecoveriesInitiated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_recoveries_initiated_total",
			Help: "Total number of recovery flows initiated",
		}),
		RecoveryApprovals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_recovery_approvals_total",
			Help: "Total number of recovery approvals accepted",
		}),
		RecoveriesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_recoveries_completed_total",
			Help: "Total number of completed recoveries (ownership transfers)",
		}),
		RegisterDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_register_duration_seconds",
			Help:    "Duration of register-identity operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		RecoveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_recovery_complete_duration_seconds",
			Help:    "Duration of complete-recovery operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// ObserveRegister records the duration of a register-identity operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRegister(start time.Time) {
	m.RegisterDuration.Observe(time.Since(start).Seconds())
}

// ObserveRecoveryCompletion records the duration of a complete-recovery operation.
func (m *Metrics) ObserveRecoveryCompletion(start time.Time) {
	m.RecoveryDuration.Observe(time.Since(start).Seconds())
}

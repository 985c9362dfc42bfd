package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the audit subsystem's operational counters.
type Metrics struct {
	EventsAppended      *prometheus.CounterVec
	IntegrityMismatches prometheus.Counter
	VerificationRuns    prometheus.Counter
	EventsVerified      prometheus.Counter
	AppendDuration      prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		EventsAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "edc_audit_events_appended_total",
			Help: "Total number of audit events appended, by action",
		}, []string{"action"}),
		IntegrityMismatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "edc_audit_integrity_mismatches_total",
			Help: "Total number of audit events whose checksum failed re-verification",
		}),
		VerificationRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "edc_audit_verification_runs_total",
			Help: "Total number of verification sweeps executed",
		}),
		EventsVerified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "edc_audit_events_verified_total",
			Help: "Total number of audit events re-verified",
		}),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "edc_audit_append_duration_seconds",
			Help:    "Duration of audited mutation transactions",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// Package metrics provides Prometheus metrics collection for metergate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for metergate.
type Collector struct {
	// Admission metrics
	AdmissionsTotal *prometheus.CounterVec
	IPChecksTotal   *prometheus.CounterVec

	// Ledger metrics
	ReservationsFinalized *prometheus.CounterVec
	TokensUsed            *prometheus.CounterVec
	CostTotal             *prometheus.CounterVec

	// Retention metrics
	RetentionRuns        prometheus.Counter
	RetentionRunDuration prometheus.Histogram
	RetentionItems       *prometheus.CounterVec
	RetentionJobErrors   *prometheus.CounterVec
}

// New creates a new metrics collector registered on the default
// Prometheus registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector registered on the
// given registry. Tests use a fresh registry to avoid duplicate
// registration.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		AdmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "admissions_total",
				Help:      "Admission decisions by outcome and denial reason",
			},
			[]string{"action", "outcome", "reason"},
		),
		IPChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "ip_checks_total",
				Help:      "IP gate decisions by outcome",
			},
			[]string{"outcome"},
		),

		ReservationsFinalized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "reservations_finalized_total",
				Help:      "Finalized reservations by provider and success",
			},
			[]string{"provider", "success"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "tokens_used_total",
				Help:      "Tokens attributed to finalized reservations",
			},
			[]string{"provider"},
		),
		CostTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "cost_total",
				Help:      "Estimated cost attributed to finalized reservations",
			},
			[]string{"provider"},
		),

		RetentionRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "retention_runs_total",
				Help:      "Completed retention runs",
			},
		),
		RetentionRunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "metergate",
				Name:      "retention_run_duration_seconds",
				Help:      "Duration of a full retention run",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		RetentionItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "retention_items_total",
				Help:      "Items affected by retention jobs",
			},
			[]string{"policy", "job"},
		),
		RetentionJobErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "retention_job_errors_total",
				Help:      "Retention job failures",
			},
			[]string{"policy", "job"},
		),
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IndicatorUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crits_indicator_upserts_total",
			Help: "Total number of indicator upserts by outcome",
		},
		[]string{"result"},
	)

	IndicatorsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crits_indicators_created_total",
			Help: "Total number of new indicator identities created",
		},
	)

	UpsertConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crits_indicator_upsert_conflicts_total",
			Help: "Total number of concurrent creations resolved by reload and merge",
		},
	)

	CascadeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crits_cascade_outcomes_total",
			Help: "Domain/IP cascade outcomes",
		},
		[]string{"target", "result"},
	)

	ImportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crits_import_rows_total",
			Help: "CSV import rows by outcome",
		},
		[]string{"outcome"},
	)

	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crits_import_duration_seconds",
			Help:    "Time taken to import a CSV batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crits_indicator_mutations_total",
			Help: "Indicator mutations by operation and outcome",
		},
		[]string{"operation", "result"},
	)

	TriageJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crits_triage_jobs_total",
			Help: "Analysis triage jobs by outcome",
		},
		[]string{"result"},
	)

	DomainParseCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crits_domain_parse_cache_total",
			Help: "Domain parser memo lookups",
		},
		[]string{"result"},
	)

	NotificationsCleared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crits_notifications_cleared_total",
			Help: "Notification clear operations by outcome",
		},
		[]string{"result"},
	)
)

// Outcome labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// ResultLabel maps a success flag to an outcome label
func ResultLabel(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

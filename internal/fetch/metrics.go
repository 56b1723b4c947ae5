package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts fetch-run outcomes for the serve-mode metrics endpoint.
type Metrics struct {
	DatesFetched    prometheus.Counter
	DatesSkipped    prometheus.Counter
	DatesFailed     prometheus.Counter
	CommitsRecorded prometheus.Counter
	IssuesRecorded  prometheus.Counter
}

// NewMetrics creates and registers fetch metrics. A nil registerer yields
// unregistered counters, which tests and one-shot runs use.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		DatesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "org_pulse_dates_fetched_total",
			Help: "Calendar dates fetched and written to the cache.",
		}),
		DatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "org_pulse_dates_skipped_total",
			Help: "Calendar dates skipped because a cached record already existed.",
		}),
		DatesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "org_pulse_dates_failed_total",
			Help: "Calendar dates whose fetch failed and was not cached.",
		}),
		CommitsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "org_pulse_commits_recorded_total",
			Help: "Commits written to the cache across all fetched dates.",
		}),
		IssuesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "org_pulse_issues_recorded_total",
			Help: "Closed issues written to the cache across all fetched dates.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(
			m.DatesFetched,
			m.DatesSkipped,
			m.DatesFailed,
			m.CommitsRecorded,
			m.IssuesRecorded,
		)
	}
	return m
}

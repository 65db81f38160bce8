package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	JobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "server",
			Subsystem: "settlement",
			Name:      "jobs_submitted_total",
			Help:      "Total number of generation jobs submitted to the gateway.",
		},
	)

	JobsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "server",
			Subsystem: "settlement",
			Name:      "jobs_settled_total",
			Help:      "Total number of jobs reaching a terminal state.",
		},
		[]string{"status"},
	)

	CreditsRefunded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "server",
			Subsystem: "settlement",
			Name:      "credits_refunded_total",
			Help:      "Total credits refunded to accounts.",
		},
	)

	SweepRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "server",
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Total number of recovery sweeps executed.",
		},
	)

	SweepJobsFound = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "server",
			Subsystem: "sweeper",
			Name:      "jobs_found_total",
			Help:      "Total number of stale processing jobs found by sweeps.",
		},
	)
)

func init() {
	Registry.MustRegister(
		JobsSubmitted,
		JobsSettled,
		CreditsRefunded,
		SweepRuns,
		SweepJobsFound,
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsSubmitted,
		attempts,
		jobsFinished,
		quotaDenials,
		stepDuration,
	)
}

var (
	jobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "review_jobs_submitted_total",
			Help: "Review jobs accepted by the scheduler.",
		},
	)

	attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_attempts_total",
			Help: "Review attempts by outcome (completed, retry, failed, skipped).",
		},
		[]string{"outcome"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_jobs_finished_total",
			Help: "Jobs that reached a terminal status.",
		},
		[]string{"status", "dead_lettered"},
	)

	quotaDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_quota_denials_total",
			Help: "Jobs refused by the plan gate per tier.",
		},
		[]string{"tier"},
	)

	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "review_step_duration_seconds",
			Help:    "Duration of fetch, review and deliver steps.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"step", "success"},
	)
)

func JobSubmitted() { jobsSubmitted.Inc() }

func AttemptFinished(outcome string) {
	attempts.WithLabelValues(norm(outcome)).Inc()
}

func JobFinished(status string, deadLettered bool) {
	jobsFinished.WithLabelValues(norm(status), strconv.FormatBool(deadLettered)).Inc()
}

func QuotaDenied(tier string) {
	quotaDenials.WithLabelValues(norm(tier)).Inc()
}

func ObserveStep(step string, d time.Duration, success bool) {
	stepDuration.WithLabelValues(step, strconv.FormatBool(success)).Observe(d.Seconds())
}

// Package metrics registers the Prometheus collectors for the job pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmitted counts accepted submissions.
	JobsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "casebridge_jobs_submitted_total",
			Help: "Total number of accepted job submissions",
		},
	)

	// SubmissionsRejected counts submissions refused before a job existed, by error code.
	SubmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casebridge_submissions_rejected_total",
			Help: "Total number of rejected job submissions",
		},
		[]string{"code"},
	)

	// JobsFinished counts jobs reaching a terminal status.
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casebridge_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status",
		},
		[]string{"status"},
	)

	// AnalysisDuration tracks the external analysis call in seconds.
	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casebridge_analysis_duration_seconds",
			Help:    "Duration of analysis calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12), // 250ms to ~8.5m
		},
		[]string{"provider"},
	)

	// WorkersActive tracks jobs currently being processed.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "casebridge_workers_active",
			Help: "Number of jobs currently being processed",
		},
	)

	// JobsReaped counts processing jobs failed after their lease expired.
	JobsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "casebridge_jobs_reaped_total",
			Help: "Total number of jobs failed by the lease reaper",
		},
	)

	// JobsEvicted counts terminal jobs removed by retention.
	JobsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "casebridge_jobs_evicted_total",
			Help: "Total number of terminal jobs evicted after the retention period",
		},
	)

	// StoreWriteRetries counts retried terminal store writes.
	StoreWriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "casebridge_store_write_retries_total",
			Help: "Total number of retried terminal job writes",
		},
	)
)

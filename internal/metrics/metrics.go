// Package metrics provides Prometheus metrics for the remediation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IncidentsIngested counts canonical incidents produced by ingest.
	IncidentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remediator",
			Name:      "incidents_ingested_total",
			Help:      "Total incidents accepted by ingest, by incident type",
		},
		[]string{"type"},
	)

	// MalformedEvents counts raw events rejected at ingest.
	MalformedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remediator",
			Name:      "malformed_events_total",
			Help:      "Raw events rejected for missing workload reference or timestamp",
		},
	)

	// ActionOutcome counts terminal outcomes by action kind.
	ActionOutcome = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remediator",
			Name:      "action_outcome_total",
			Help:      "Terminal remediation outcomes by action kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// GuardRejections counts safety guard vetoes by check.
	GuardRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remediator",
			Name:      "guard_rejections_total",
			Help:      "Candidate actions rejected by the safety guard",
		},
		[]string{"check"},
	)

	// ExecuteRetries counts read-modify-write attempts beyond the first.
	ExecuteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remediator",
			Name:      "execute_retries_total",
			Help:      "Write conflicts that triggered a read-modify-write retry",
		},
	)

	// PipelineDuration tracks end-to-end incident processing time.
	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "remediator",
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of the ingest-to-outcome pipeline per incident",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	// ActiveWorkers tracks per-workload pipeline workers currently alive.
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "remediator",
			Name:      "active_workers",
			Help:      "Per-workload pipeline workers currently running",
		},
	)

	// HistoryPruned counts records removed by retention pruning.
	HistoryPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remediator",
			Name:      "history_pruned_total",
			Help:      "History records removed by age-based pruning",
		},
	)
)

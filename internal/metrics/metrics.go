// Package metrics provides Prometheus metrics for toolwatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "toolwatch"
)

// Execution metrics
var (
	// ExecutionsRecordedTotal counts recorded executions by tool and status.
	ExecutionsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "recorded_total",
			Help:      "Total executions recorded",
		},
		[]string{"tool", "status"},
	)

	// ExecutionDuration tracks recorded execution durations.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executions",
			Name:      "duration_seconds",
			Help:      "Recorded execution duration in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"tool"},
	)
)

// Detection metrics
var (
	// DetectionRulesEvaluated counts condition invocations.
	DetectionRulesEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "rules_evaluated_total",
			Help:      "Total detection rule evaluations",
		},
	)

	// DetectionTriggersTotal counts triggered detection rules.
	DetectionTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "triggers_total",
			Help:      "Total detection rule triggers",
		},
		[]string{"rule"},
	)

	// ImprovementsCreatedTotal counts persisted improvements.
	ImprovementsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "improvements_created_total",
			Help:      "Total improvements created",
		},
		[]string{"method"},
	)

	// ImprovementsDeduplicatedTotal counts triggers dropped as duplicates.
	ImprovementsDeduplicatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "improvements_deduplicated_total",
			Help:      "Total triggers dropped as duplicates of open improvements",
		},
	)
)

// Rule engine metrics shared by detection and alerting.
var (
	// RuleFaultsTotal counts rule conditions that failed to evaluate.
	RuleFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "faults_total",
			Help:      "Total rule evaluation faults",
		},
		[]string{"engine", "rule"},
	)

	// CooldownSkipsTotal counts rules skipped because of a cooldown.
	CooldownSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "cooldown_skips_total",
			Help:      "Total rule evaluations skipped by cooldown",
		},
		[]string{"engine"},
	)

	// BatchDuration tracks engine batch latency.
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "batch_duration_seconds",
			Help:      "Engine batch latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"engine"},
	)
)

// Alert metrics
var (
	// AlertsTriggeredTotal counts new alerts.
	AlertsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "triggered_total",
			Help:      "Total alerts triggered",
		},
		[]string{"rule", "severity"},
	)

	// AlertsTransitionsTotal counts alert status changes.
	AlertsTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "transitions_total",
			Help:      "Total alert status transitions",
		},
		[]string{"status", "actor"},
	)
)

// Notification metrics
var (
	// NotificationsTotal counts delivery attempts by channel and result.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total notification delivery attempts",
		},
		[]string{"channel", "result"}, // success, failure
	)

	// NotificationsRateLimited counts notifications dropped by the rate limiter.
	NotificationsRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "rate_limited_total",
			Help:      "Total notifications dropped due to rate limiting",
		},
	)
)

// Ingest and enrichment metrics
var (
	// SpoolLinesTotal counts spool lines by outcome.
	SpoolLinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spool",
			Name:      "lines_total",
			Help:      "Total spool lines read",
		},
		[]string{"result"}, // ok, invalid
	)

	// AIRequestsTotal counts analyzer calls by outcome.
	AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Total AI analyzer requests",
		},
		[]string{"result"}, // success, failure, invalid, skipped
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

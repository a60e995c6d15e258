package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vulnsync"

// Run metrics
var (
	// RunsTotal tracks reconciliation runs by status
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs by status",
		},
		[]string{"status"}, // status: "success", "failed", "skipped"
	)

	// RunDuration tracks reconciliation run duration
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Reconciliation run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	// LastSuccessfulRun is the unix time of the last successful run
	LastSuccessfulRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_run_timestamp_seconds",
			Help:      "Unix timestamp of the last successful reconciliation run",
		},
	)
)

// Reconciliation metrics
var (
	// ProblemsProcessed tracks security problems run through the rule chain
	ProblemsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "problems_processed_total",
			Help:      "Total number of security problems evaluated",
		},
	)

	// RuleMatches tracks rule matches by rule id
	RuleMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_matches_total",
			Help:      "Total number of rule matches",
		},
		[]string{"rule_id", "type"},
	)

	// Tickets tracks ticket sink actions
	Tickets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_total",
			Help:      "Total number of ticket actions",
		},
		[]string{"action"}, // action: "created", "commented", "existing"
	)

	// RemaindersIgnored tracks unmatched remainders dropped by ignore_rest
	RemaindersIgnored = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remainders_ignored_total",
			Help:      "Total number of unmatched remainders that were not written",
		},
	)
)

// Provider metrics
var (
	// ProviderRequests tracks outgoing API requests by provider and status
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of requests to external APIs",
		},
		[]string{"provider", "status"},
	)

	// ProviderRequestDuration tracks outgoing API latency
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of requests to external APIs in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// ProviderRetries tracks retried requests
	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Total number of retried requests to external APIs",
		},
		[]string{"provider"},
	)
)

// Notification metrics
var (
	// NotificationsSent tracks run summary notifications by provider and status
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of run summary notifications",
		},
		[]string{"provider", "status"},
	)
)

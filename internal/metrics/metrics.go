package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "singura"
)

var (
	discoveryDurationBuckets = []float64{1, 2, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600}

	// Discovery Run Metrics
	DiscoveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "discovery_duration_seconds",
		Help:      "Time taken for a discovery run to complete.",
		Buckets:   discoveryDurationBuckets,
	}, []string{"platform"})

	DiscoveryRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discovery_runs_total",
		Help:      "Count of discovery run executions.",
	}, []string{"platform", "status"})

	DiscoveryLastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "discovery_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful discovery run.",
	}, []string{"platform"})

	DiscoveryEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discovery_events_total",
		Help:      "Number of automation events returned by discovery methods.",
	}, []string{"platform", "method"})

	DiscoveryMethodFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discovery_method_failures_total",
		Help:      "Count of discovery methods that failed within a run.",
	}, []string{"platform", "method"})

	// Credential Metrics
	TokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "Count of OAuth access token refreshes.",
	}, []string{"status"})

	// Audit and Permission Metrics
	AuditEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_entries_total",
		Help:      "Number of audit log entries fetched after filtering.",
	}, []string{"platform"})

	PermissionChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "permission_checks_total",
		Help:      "Count of permission validations by outcome.",
	}, []string{"platform", "result"})
)

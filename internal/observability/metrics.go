package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., verdict_...).
const namespace = "verdict"

// evaluationBuckets adds sub-5ms resolution on top of the standard buckets.
// Rule evaluation is an in-memory fold, so most observations land well below
// the default 5ms floor.
var evaluationBuckets = []float64{.001, .002, .005, .010, .025, .050, .100, .250, .500, 1}

var (
	// -------------------------------------------------------------------------
	// HTTP API
	// -------------------------------------------------------------------------

	// HTTPReqDuration measures the latency of HTTP requests.
	// Metric: verdict_api_http_handling_seconds
	HTTPReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// HTTPReqTotal counts the total number of HTTP requests.
	// Metric: verdict_api_http_requests_total
	HTTPReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// EVALUATION
	// -------------------------------------------------------------------------

	// EvaluationsTotal counts recorded decisions by outcome, plus the
	// "replayed" label value for idempotent re-reads and "error" for
	// evaluation failures.
	// Metric: verdict_evaluation_decisions_total
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "decisions_total",
		Help:      "Total evaluation requests by outcome",
	}, []string{"status"})

	// EvaluationDuration measures end-to-end evaluation latency, including
	// the rule load and the decision insert.
	// Metric: verdict_evaluation_duration_seconds
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "duration_seconds",
		Help:      "End-to-end latency of rule evaluations",
		Buckets:   evaluationBuckets,
	})

	// -------------------------------------------------------------------------
	// RULE CACHE (Redis)
	// -------------------------------------------------------------------------

	RuleCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "rule_hits_total",
		Help:      "Total rule cache hits",
	})

	RuleCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "rule_misses_total",
		Help:      "Total rule cache misses (including corrupt entries)",
	})

	RuleCacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "rule_invalidations_total",
		Help:      "Total rule cache invalidation calls",
	})

	// -------------------------------------------------------------------------
	// TIMELINE NOTIFIER
	// -------------------------------------------------------------------------

	// TimelineNotificationsTotal counts notification attempts by final
	// outcome after retries: "delivered" or "dropped".
	// Metric: verdict_timeline_notifications_total
	TimelineNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "timeline",
		Name:      "notifications_total",
		Help:      "Total timeline notification attempts by outcome",
	}, []string{"outcome"})
)

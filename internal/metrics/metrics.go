package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts handled requests by route template and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "underwriting_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration observes request latency by route template
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "underwriting_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// AnalysesTotal counts computed analyses by recommendation
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "underwriting_analyses_total",
			Help: "Underwriting analyses computed",
		},
		[]string{"recommendation"},
	)

	// ScoringFailures counts analyses that could not be computed, by stage
	ScoringFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "underwriting_scoring_failures_total",
			Help: "Underwriting analyses that failed",
		},
		[]string{"stage"},
	)

	// CacheLookups counts analysis cache reads by result
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "underwriting_cache_lookups_total",
			Help: "Analysis cache lookups by result",
		},
		[]string{"result"},
	)
)

// Failure stages
const (
	StageFetch     = "fetch"
	StageAggregate = "aggregate"
	StageScore     = "score"
	StageSave      = "save"
)

package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "dispatch_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ruleEvaluations *prometheus.CounterVec
	ruleMatches     *prometheus.CounterVec
	actionsExecuted *prometheus.CounterVec

	suggestionsResolved *prometheus.CounterVec

	broadcastsTotal   *prometheus.CounterVec
	broadcastsDropped prometheus.Counter

	scanRuns    *prometheus.CounterVec
	scanLatency *prometheus.HistogramVec

	remindersTotal *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ruleEvaluations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_evaluations_total",
				Help: "Total rule evaluations by outcome",
			},
			[]string{"outcome"},
		)
		ruleMatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_matches_total",
				Help: "Total rule matches by execution mode",
			},
			[]string{"mode"},
		)
		actionsExecuted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "actions_total",
				Help: "Total executed actions by kind",
			},
			[]string{"kind"},
		)

		suggestionsResolved = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "suggestions_resolved_total",
				Help: "Total resolved suggestions by resolution",
			},
			[]string{"resolution"},
		)

		broadcastsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcasts_total",
				Help: "Total broker broadcasts by channel",
			},
			[]string{"channel"},
		)
		broadcastsDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcasts_dropped_total",
				Help: "Broadcasts dropped because the delivery queue was full",
			},
		)

		scanRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scan_runs_total",
				Help: "Total scanner passes by job and result",
			},
			[]string{"job", "result"},
		)
		scanLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "scan_latency_seconds",
				Help:    "Scanner pass latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		)

		remindersTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reminders_total",
				Help: "Total fired reminders by rule type",
			},
			[]string{"rule_type"},
		)

		prometheus.MustRegister(
			ruleEvaluations,
			ruleMatches,
			actionsExecuted,
			suggestionsResolved,
			broadcastsTotal,
			broadcastsDropped,
			scanRuns,
			scanLatency,
			remindersTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncRuleEvaluation increments the evaluation counter for an outcome.
func IncRuleEvaluation(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if ruleEvaluations != nil {
		ruleEvaluations.WithLabelValues(outcome).Inc()
	}
}

// IncRuleMatch increments the match counter for an execution mode.
func IncRuleMatch(mode string) {
	if mode == "" {
		mode = "unknown"
	}
	if ruleMatches != nil {
		ruleMatches.WithLabelValues(mode).Inc()
	}
}

// IncActionExecuted increments the executed-action counter.
func IncActionExecuted(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if actionsExecuted != nil {
		actionsExecuted.WithLabelValues(kind).Inc()
	}
}

// IncSuggestionResolved increments resolution counters.
func IncSuggestionResolved(resolution string) {
	if resolution == "" {
		resolution = "unknown"
	}
	if suggestionsResolved != nil {
		suggestionsResolved.WithLabelValues(resolution).Inc()
	}
}

// IncBroadcast increments the per-channel broadcast counter.
func IncBroadcast(channel string) {
	if channel == "" {
		channel = "unknown"
	}
	if broadcastsTotal != nil {
		broadcastsTotal.WithLabelValues(channel).Inc()
	}
}

// IncBroadcastDropped increments the dropped broadcast counter.
func IncBroadcastDropped() {
	if broadcastsDropped != nil {
		broadcastsDropped.Inc()
	}
}

// ObserveScan records a scanner pass latency and result.
func ObserveScan(job, result string, duration time.Duration) {
	if job == "" {
		job = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if scanRuns != nil {
		scanRuns.WithLabelValues(job, result).Inc()
	}
	if scanLatency != nil {
		scanLatency.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// IncReminder increments the fired-reminder counter.
func IncReminder(ruleType string) {
	if ruleType == "" {
		ruleType = "unknown"
	}
	if remindersTotal != nil {
		remindersTotal.WithLabelValues(ruleType).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)

// Package metrics provides Prometheus metrics for the sentinel daemon:
// dispatcher health, pipeline progress, alerting, and store dedup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Failsafe Dispatcher ────────────────────────────────────────────────────

// DispatcherRequests tracks total Predict calls.
var DispatcherRequests = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "dispatcher_requests_total",
	Help:      "Total sentiment prediction requests handled by the dispatcher.",
})

// DispatcherModelCalls tracks model-path outcomes by result.
var DispatcherModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "dispatcher_model_calls_total",
	Help:      "Model service calls by outcome.",
}, []string{"outcome"}) // outcome: success, failure

// DispatcherFallbacks tracks lexicon fallback usage.
var DispatcherFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "dispatcher_fallback_total",
	Help:      "Total requests served by the lexicon fallback instead of the model.",
})

// DispatcherConsecutiveFailures tracks the breaker's current streak.
var DispatcherConsecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "sentinel",
	Name:      "dispatcher_consecutive_failures",
	Help:      "Current consecutive model-call failure count.",
})

// DispatcherPhase tracks the circuit breaker phase (1=closed, 2=half_open, 3=open).
var DispatcherPhase = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "sentinel",
	Name:      "dispatcher_circuit_phase",
	Help:      "Circuit breaker phase: 1=closed, 2=half_open, 3=open.",
})

// ModelLatency tracks model service call latency in seconds.
var ModelLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "sentinel",
	Name:      "model_latency_seconds",
	Help:      "Model service call latency in seconds.",
	Buckets:   prometheus.DefBuckets,
})

// ─── Pipeline ───────────────────────────────────────────────────────────────

// PipelinesStarted tracks total pipelines submitted.
var PipelinesStarted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "pipelines_started_total",
	Help:      "Total pipelines submitted to the orchestrator.",
})

// PipelinesActive tracks pipelines currently running.
var PipelinesActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "sentinel",
	Name:      "pipelines_active",
	Help:      "Number of pipelines currently running.",
})

// PipelinesCompleted tracks finished pipelines by terminal state.
var PipelinesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "pipelines_completed_total",
	Help:      "Total pipelines reaching a terminal state.",
}, []string{"state"}) // state: succeeded, failed, cancelled

// StageDuration tracks how long each stage takes.
var StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "sentinel",
	Name:      "pipeline_stage_duration_seconds",
	Help:      "Pipeline stage execution duration in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
}, []string{"stage"})

// ItemsScraped tracks items fetched by the content source.
var ItemsScraped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "items_scraped_total",
	Help:      "Total items fetched from the content source.",
})

// ─── Alerts ─────────────────────────────────────────────────────────────────

// AlertsRaised tracks alerts emitted by kind and severity.
var AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "alerts_raised_total",
	Help:      "Total alerts raised by kind and severity.",
}, []string{"kind", "severity"})

// ─── Result Store ───────────────────────────────────────────────────────────

// StoreDedupHits tracks how often an insert was skipped due to a
// duplicate text hash.
var StoreDedupHits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "store_dedup_hits_total",
	Help:      "Total classification inserts skipped due to dedup.",
})

// StoreWrites tracks successful classification inserts.
var StoreWrites = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "store_writes_total",
	Help:      "Total classifications persisted.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "sentinel",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

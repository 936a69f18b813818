// Package metrics exposes the Prometheus metrics the dispatch engine emits:
// assignment and preemption counts, dispatch decision duration, gateway call
// outcomes, cache refresh outcomes, and scheduler cycles.
// None of this is "unit telemetry" in the spec.md §1 non-goal sense — it is
// operational observability of the engine process itself.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchAssignmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_engine_assignments_total",
		Help: "Total units successfully committed to an intervention.",
	})

	DispatchPreemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_engine_preemptions_total",
		Help: "Total committed assignments that required preempting a unit from another intervention.",
	})

	DispatchDecisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_engine_decision_duration_seconds",
		Help:    "Wall-clock duration of a single dispatch_for_intervention call.",
		Buckets: prometheus.DefBuckets,
	})

	SweepDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_engine_sweep_assignments_total",
		Help: "Total units assigned across all periodic_dispatch sweeps.",
	})

	GatewayCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_engine_gateway_calls_total",
		Help: "Backend gateway calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	CacheRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_engine_cache_refresh_total",
		Help: "Static data cache refresh attempts by outcome.",
	}, []string{"outcome"})

	SchedulerCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_engine_scheduler_cycles_total",
		Help: "Total periodic scheduler cycles run.",
	})
)

// RecordAssignment increments the assignment counter and, when preemption
// was required, the preemption counter.
func RecordAssignment(requiredPreemption bool) {
	DispatchAssignmentsTotal.Inc()
	if requiredPreemption {
		DispatchPreemptionsTotal.Inc()
	}
}

// RecordDecisionDuration records the wall-clock cost of one dispatch
// decision.
func RecordDecisionDuration(d time.Duration) {
	DispatchDecisionDuration.Observe(d.Seconds())
}

// RecordSweepAssignments adds n to the sweep-wide assignment counter.
func RecordSweepAssignments(n int) {
	SweepDispatchedTotal.Add(float64(n))
}

// RecordGatewayCall records one gateway call outcome ("ok", "unavailable",
// "malformed").
func RecordGatewayCall(operation, outcome string) {
	GatewayCallsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordCacheRefresh records one cache refresh attempt outcome ("ok" or
// "failed").
func RecordCacheRefresh(outcome string) {
	CacheRefreshTotal.WithLabelValues(outcome).Inc()
}

// RecordSchedulerCycle increments the scheduler cycle counter.
func RecordSchedulerCycle() {
	SchedulerCyclesTotal.Inc()
}

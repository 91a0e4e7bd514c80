/*
Package metrics provides Prometheus metrics collection and exposition for
the VMI runtime, plus a small health-check registry used by the process's
HTTP liveness/readiness endpoints.

# Metrics Catalog

Event substrate:
  - vmi_events_dispatched_total{kind}: events dispatched, by kind.
  - vmi_subscriptions_active: currently active subscriptions.
  - vmi_run_loop_iteration_duration_seconds: time per run-loop iteration.

SLP coordinator:
  - vmi_slp_updates_total: permission updates processed.
  - vmi_slp_rwx_violations_total: violations resolved via single-step.

Breakpoint engine:
  - vmi_breakpoints_armed: breakpoints currently set (Armed or Hidden).

Single-step coordinator:
  - vmi_singlestep_arm_total{method}: arm requests, by method.

Task-switch coordinator:
  - vmi_taskswitch_facets_active: distinct facets currently tracked.

# Usage

	metrics.EventsDispatched.WithLabelValues("Breakpoint").Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RunLoopIterationDuration)

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/healthz", metrics.HealthHandler())
	http.HandleFunc("/readyz", metrics.ReadyHandler())

# Collector

Some gauges (armed breakpoint count, active task-switch facets) reflect
coordinator-internal state that isn't naturally updated at every mutation
site. Collector samples them on a ticker instead, on its own goroutine
beside the single-threaded run loop (as the CLI's HTTP server and signal
handler also run on their own goroutines) — reading a
counter off a coordinator is safe to do concurrently with dispatch as long
as the coordinator's ArmedCount/ActiveFacetCount methods only read state
that's otherwise only mutated from the run-loop thread.

# Design Patterns

Package-level metric variables registered once in init(), the same pattern
used throughout this codebase family: call sites reach for a named
prometheus.Counter/Gauge/Histogram directly rather than threading a
registry through every constructor.
*/
package metrics

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsDispatched counts events dispatched by the event manager, by
	// kind (VmReady, Breakpoint, SlpViolation, ...).
	EventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmi_events_dispatched_total",
			Help: "Total number of events dispatched by the event manager, by kind",
		},
		[]string{"kind"},
	)

	// SubscriptionsActive tracks the number of currently active event
	// subscriptions across all kinds.
	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vmi_subscriptions_active",
			Help: "Number of currently active event subscriptions",
		},
	)

	// RunLoopIterationDuration measures the time spent in one run-loop
	// iteration: continue-hooks, the hypervisor poll, and dispatching the
	// drained queue.
	RunLoopIterationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vmi_run_loop_iteration_duration_seconds",
			Help:    "Duration of one run loop iteration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SLPUpdates counts permission update requests processed by the SLP
	// coordinator.
	SLPUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vmi_slp_updates_total",
			Help: "Total number of SLP permission updates processed",
		},
	)

	// SLPRWXViolations counts SLP violations that required the
	// single-step recovery path because both read/write and execute
	// access were needed on the same page.
	SLPRWXViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vmi_slp_rwx_violations_total",
			Help: "Total number of RWX SLP violations resolved via single step",
		},
	)

	// BreakpointsArmed tracks the number of breakpoints the engine currently
	// holds, whether in the Armed or the Hidden state.
	BreakpointsArmed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vmi_breakpoints_armed",
			Help: "Number of stealth breakpoints currently armed",
		},
	)

	// SingleStepArms counts single-step arm requests, by method (debug or
	// mtf).
	SingleStepArms = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmi_singlestep_arm_total",
			Help: "Total number of single-step arm requests, by method",
		},
		[]string{"method"},
	)

	// TaskSwitchFacetsActive tracks the number of distinct (dtb,
	// direction) or (reg) facets the task-switch coordinator is currently
	// tracking.
	TaskSwitchFacetsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vmi_taskswitch_facets_active",
			Help: "Number of distinct task-switch facets currently tracked",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsDispatched)
	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(RunLoopIterationDuration)
	prometheus.MustRegister(SLPUpdates)
	prometheus.MustRegister(SLPRWXViolations)
	prometheus.MustRegister(BreakpointsArmed)
	prometheus.MustRegister(SingleStepArms)
	prometheus.MustRegister(TaskSwitchFacetsActive)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

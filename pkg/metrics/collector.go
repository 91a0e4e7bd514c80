package metrics

import (
	"time"
)

// ArmedCounter is implemented by the breakpoint engine to report how many
// breakpoints are currently armed.
type ArmedCounter interface {
	ArmedCount() int
}

// FacetCounter is implemented by the task-switch coordinator to report how
// many distinct (dtb/reg) facets it is currently tracking.
type FacetCounter interface {
	ActiveFacetCount() int
}

// Collector periodically samples coordinator state that isn't naturally
// updated inline (BreakpointsArmed, TaskSwitchFacetsActive) and pushes it
// into the corresponding gauges.
type Collector struct {
	breakpoints ArmedCounter
	taskSwitch  FacetCounter
	interval    time.Duration
	stopCh      chan struct{}
}

// NewCollector returns a Collector that samples every interval. Either
// source may be nil if that coordinator is not loaded.
func NewCollector(breakpoints ArmedCounter, taskSwitch FacetCounter, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		breakpoints: breakpoints,
		taskSwitch:  taskSwitch,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// Start begins periodic sampling in a background goroutine, outside the
// single-threaded run loop, since sampling a gauge is safe to do
// concurrently with dispatch.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends periodic sampling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.breakpoints != nil {
		BreakpointsArmed.Set(float64(c.breakpoints.ArmedCount()))
	}
	if c.taskSwitch != nil {
		TaskSwitchFacetsActive.Set(float64(c.taskSwitch.ActiveFacetCount()))
	}
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeArmedCounter struct{ n int }

func (f *fakeArmedCounter) ArmedCount() int { return f.n }

type fakeFacetCounter struct{ n int }

func (f *fakeFacetCounter) ActiveFacetCount() int { return f.n }

func TestCollectorSamplesOnCollect(t *testing.T) {
	bp := &fakeArmedCounter{n: 3}
	ts := &fakeFacetCounter{n: 2}
	c := NewCollector(bp, ts, time.Hour)
	c.collect()

	if got := testutil.ToFloat64(BreakpointsArmed); got != 3 {
		t.Errorf("BreakpointsArmed = %v, want 3", got)
	}
	if got := testutil.ToFloat64(TaskSwitchFacetsActive); got != 2 {
		t.Errorf("TaskSwitchFacetsActive = %v, want 2", got)
	}
}

func TestCollectorNilSources(t *testing.T) {
	c := NewCollector(nil, nil, time.Hour)
	c.collect() // must not panic
}

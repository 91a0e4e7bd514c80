package types

import "testing"

func TestBreakpointParamsMatches(t *testing.T) {
	gpa := uint64(0x1000)
	tests := []struct {
		name   string
		params BreakpointParams
		event  Event
		want   bool
	}{
		{"nil filter matches any gpa", BreakpointParams{}, BreakpointEvent{GPA: 0x9999}, true},
		{"matching gpa", BreakpointParams{GPA: &gpa}, BreakpointEvent{GPA: 0x1000}, true},
		{"mismatched gpa", BreakpointParams{GPA: &gpa}, BreakpointEvent{GPA: 0x2000}, false},
		{"wrong event kind", BreakpointParams{GPA: &gpa}, VMStopEvent{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSingleStepParamsMatches(t *testing.T) {
	cpu0 := 0
	cpu1 := 1
	debug := SingleStepMethodDebug
	tests := []struct {
		name   string
		params SingleStepParams
		event  Event
		want   bool
	}{
		{"no filter matches any", SingleStepParams{}, SingleStepEvent{CPU: 3, Method: SingleStepMethodMTF}, true},
		{"cpu filter matches", SingleStepParams{CPU: &cpu0}, SingleStepEvent{CPU: 0}, true},
		{"cpu filter rejects", SingleStepParams{CPU: &cpu1}, SingleStepEvent{CPU: 0}, false},
		{"method filter matches", SingleStepParams{Method: &debug}, SingleStepEvent{Method: SingleStepMethodDebug}, true},
		{"method filter rejects", SingleStepParams{Method: &debug}, SingleStepEvent{Method: SingleStepMethodMTF}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSLPViolationParamsMatches(t *testing.T) {
	tests := []struct {
		name   string
		params SLPViolationParams
		event  Event
		want   bool
	}{
		{"single frame matches", SLPViolationParams{GFN: 0x10}, SLPViolationEvent{GFN: 0x10}, true},
		{"single frame rejects adjacent", SLPViolationParams{GFN: 0x10}, SLPViolationEvent{GFN: 0x11}, false},
		{"multi-page span matches", SLPViolationParams{GFN: 0x10, NumPages: 4}, SLPViolationEvent{GFN: 0x12}, true},
		{"multi-page span rejects out of range", SLPViolationParams{GFN: 0x10, NumPages: 4}, SLPViolationEvent{GFN: 0x20}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTaskSwitchParamsMatches(t *testing.T) {
	dtb := uint64(0xabc)
	other := uint64(0xdef)
	tests := []struct {
		name   string
		params TaskSwitchParams
		event  Event
		want   bool
	}{
		{"nil filter matches any", TaskSwitchParams{}, TaskSwitchEvent{IncomingDTB: 0x1}, true},
		{"matches incoming", TaskSwitchParams{DTB: &dtb}, TaskSwitchEvent{IncomingDTB: 0xabc}, true},
		{"matches outgoing", TaskSwitchParams{DTB: &dtb}, TaskSwitchEvent{OutgoingDTB: 0xabc}, true},
		{"rejects unrelated dtb", TaskSwitchParams{DTB: &other}, TaskSwitchEvent{IncomingDTB: 0xabc}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSingleStepMethodString(t *testing.T) {
	tests := []struct {
		method SingleStepMethod
		want   string
	}{
		{SingleStepMethodNone, "none"},
		{SingleStepMethodDebug, "debug"},
		{SingleStepMethodMTF, "mtf"},
	}
	for _, tt := range tests {
		if got := tt.method.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

package types

// Arch identifies the guest CPU architecture a plugin, event, or facade is
// bound to.
type Arch string

const (
	ArchX86_64  Arch = "x86_64"
	ArchAArch64 Arch = "aarch64"
	// ArchAny matches plugins that are architecture-independent.
	ArchAny Arch = ""
)

// OS identifies the guest operating system family a plugin or OS facade
// targets.
type OS string

const (
	OSLinux   OS = "linux"
	OSWindows OS = "windows"
	// OSAny matches plugins that are OS-independent.
	OSAny OS = ""
)

// Kind discriminates the tagged union of runtime events. Subscriptions are
// keyed by Kind, with KindWildcard matching every event.
type Kind string

const (
	// KindWildcard subscribes to every event kind, regardless of payload.
	KindWildcard Kind = "*"

	KindVMReady      Kind = "VmReady"
	KindVMStop       Kind = "VmStop"
	KindVMShutdown   Kind = "VmShutdown"
	KindBreakpoint   Kind = "Breakpoint"
	KindSingleStep   Kind = "SingleStep"
	KindSLPViolation Kind = "SlpViolation"
	KindTaskSwitch   Kind = "TaskSwitch"
)

// Event is the common interface satisfied by every event payload delivered
// through the event manager. Kind reports the discriminant used to route the
// event to subscriptions; it is redundant with the Go concrete type but lets
// the event manager key its subscription map on a plain value instead of a
// reflect.Type.
type Event interface {
	Kind() Kind
}

// VMReadyEvent fires once, after the hypervisor has initialized the VM and
// before the run loop resumes it for the first time.
type VMReadyEvent struct{}

func (VMReadyEvent) Kind() Kind { return KindVMReady }

// VMStopEvent fires each time the hypervisor reports the VM stopped,
// regardless of the reason (breakpoint, single-step, SLP violation, ...).
// It is delivered alongside the more specific event for that stop, if any.
type VMStopEvent struct{}

func (VMStopEvent) Kind() Kind { return KindVMStop }

// VMShutdownEvent fires once, when the guest has powered off. Delivering it
// ends the run loop.
type VMShutdownEvent struct{}

func (VMShutdownEvent) Kind() Kind { return KindVMShutdown }

// BreakpointEvent reports a stealth breakpoint trap.
type BreakpointEvent struct {
	CPU int
	GVA uint64
	GPA uint64
}

func (BreakpointEvent) Kind() Kind { return KindBreakpoint }

// SingleStepMethod identifies the mechanism used to arm a single step.
type SingleStepMethod int

const (
	// SingleStepMethodNone means no single step is currently armed.
	SingleStepMethodNone SingleStepMethod = iota
	// SingleStepMethodDebug arms via the guest debug-trap mechanism.
	SingleStepMethodDebug
	// SingleStepMethodMTF arms via hardware Monitor Trap Flag.
	SingleStepMethodMTF
)

func (m SingleStepMethod) String() string {
	switch m {
	case SingleStepMethodDebug:
		return "debug"
	case SingleStepMethodMTF:
		return "mtf"
	default:
		return "none"
	}
}

// SingleStepEvent reports that an armed single step completed on CPU.
type SingleStepEvent struct {
	CPU    int
	Method SingleStepMethod
}

func (SingleStepEvent) Kind() Kind { return KindSingleStep }

// Perm is a second-level-paging permission tuple. Committed reports whether
// this tuple has been written to the hypervisor, or only staged.
type Perm struct {
	R, W, X   bool
	Committed bool
}

// SLPViolationEvent reports a second-level-paging permission trap.
type SLPViolationEvent struct {
	CPU int
	GVA uint64
	GPA uint64
	GFN uint64

	// R, W, X report the access kind that trapped.
	R, W, X bool
	// RWX reports that more than one access kind trapped simultaneously,
	// which the SLP coordinator resolves with a single step instead of a
	// permission flip.
	RWX bool
}

func (SLPViolationEvent) Kind() Kind { return KindSLPViolation }

// TaskSwitchEvent reports an address-space switch detected by the
// architecture-specific task-switch producer. The Reg/Old/New fields are
// populated on aarch64 (TTBR0 swap); IncomingDTB/OutgoingDTB are populated
// on x86_64 (CR3 swap).
type TaskSwitchEvent struct {
	Arch Arch
	CPU  int

	IncomingDTB uint64
	OutgoingDTB uint64

	Reg string
	Old uint64
	New uint64
}

func (TaskSwitchEvent) Kind() Kind { return KindTaskSwitch }

// BreakpointParams filters BreakpointEvent delivery to a specific guest
// physical address. A nil GPA matches every breakpoint trap.
type BreakpointParams struct {
	GPA *uint64
}

// Matches implements the default event-filter semantics: an unset GPA
// matches unconditionally, otherwise the trapping address must match.
func (p BreakpointParams) Matches(e Event) bool {
	bp, ok := e.(BreakpointEvent)
	if !ok {
		return false
	}
	if p.GPA == nil {
		return true
	}
	return *p.GPA == bp.GPA
}

// SingleStepParams filters SingleStepEvent delivery to a specific CPU and/or
// arming method. Either field left nil matches any value.
type SingleStepParams struct {
	CPU    *int
	Method *SingleStepMethod
}

func (p SingleStepParams) Matches(e Event) bool {
	ss, ok := e.(SingleStepEvent)
	if !ok {
		return false
	}
	if p.CPU != nil && *p.CPU != ss.CPU {
		return false
	}
	if p.Method != nil && *p.Method != ss.Method {
		return false
	}
	return true
}

// SLPViolationParams requests which access kinds should trap for a guest
// frame. NumPages extends the request to a run of consecutive frames.
type SLPViolationParams struct {
	GFN      uint64
	NumPages uint64
	TrapR    bool
	TrapW    bool
	TrapX    bool
}

// Matches implements the default filter: any SlpViolation on a requested
// frame passes through, regardless of which access kind trapped. Neither
// this filter nor the SLP coordinator checks the trapped access kind
// against TrapR/TrapW/TrapX.
func (p SLPViolationParams) Matches(e Event) bool {
	v, ok := e.(SLPViolationEvent)
	if !ok {
		return false
	}
	span := p.NumPages
	if span == 0 {
		span = 1
	}
	return v.GFN >= p.GFN && v.GFN < p.GFN+span
}

// TaskSwitchParams filters TaskSwitchEvent delivery to a specific address
// space identifier, and (when forwarded to the task-switch coordinator's
// Producer.RequestEvent) describes which facet of tracking the subscriber
// needs. A nil DTB matches any task switch for Matches purposes.
type TaskSwitchParams struct {
	DTB *uint64

	// Incoming/Outgoing request x86_64 CR3-swap tracking in that
	// direction for DTB. Reg requests aarch64 TTBR/TCR tracking for the
	// named register instead; x86_64 and aarch64 requests are mutually
	// exclusive per the architecture the coordinator was built for.
	Incoming bool
	Outgoing bool
	Reg      string
}

func (p TaskSwitchParams) Matches(e Event) bool {
	ts, ok := e.(TaskSwitchEvent)
	if !ok {
		return false
	}
	if p.DTB == nil {
		return true
	}
	return *p.DTB == ts.IncomingDTB || *p.DTB == ts.OutgoingDTB
}

// CPUState is the architecture-neutral register snapshot returned by the
// hypervisor facade for a single vCPU. Architecture-specific register
// access goes through pkg/vm, which interprets the raw bytes in Raw.
type CPUState struct {
	CPU            int
	InstructionPtr uint64
	StackPtr       uint64
	Raw            []byte
}

// LBREntry is one branch recorded in a CPU's last-branch-record buffer.
type LBREntry struct {
	From uint64
	To   uint64
}

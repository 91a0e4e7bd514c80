package plugin

// Core plugin names, in the fixed order they must load: the VM facade and
// OS facade come first since every coordinator depends on them, and the
// interactive shell loads last since it depends on everything else.
const (
	NameVirtualMachine  = "VirtualMachine"
	NameOperatingSystem = "OperatingSystem"
	NameTaskSwitch      = "TaskSwitch"
	NameSLP             = "SLP"
	NameSingleStep      = "SingleStep"
	NameBreakpoint      = "Breakpoint"
	NameFunctionArgs    = "FunctionArgs"
	NameInteractive     = "Interactive"
)

// CoreLoadOrder lists the core plugin names in the order LoadPlugin must
// be called for them. Plugin names listed in config.PluginsSection are not
// part of this order and are not loaded.
var CoreLoadOrder = []string{
	NameVirtualMachine,
	NameOperatingSystem,
	NameTaskSwitch,
	NameSLP,
	NameSingleStep,
	NameBreakpoint,
	NameFunctionArgs,
	NameInteractive,
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/vmicore/pkg/breakpoint"
	"github.com/cuemby/vmicore/pkg/events"
	"github.com/cuemby/vmicore/pkg/hv"
	"github.com/cuemby/vmicore/pkg/plugin"
	"github.com/cuemby/vmicore/pkg/registry"
	"github.com/cuemby/vmicore/pkg/singlestep"
	"github.com/cuemby/vmicore/pkg/sink"
	"github.com/cuemby/vmicore/pkg/slp"
	"github.com/cuemby/vmicore/pkg/taskswitch"
	"github.com/cuemby/vmicore/pkg/types"
	"github.com/cuemby/vmicore/pkg/vm"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Load configuration and report what would run, without starting the run loop",
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	_, runtimeCfg, pluginsCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	archFlag, _ := cmd.Flags().GetString("arch")
	arch := types.ArchX86_64
	if archFlag == "aarch64" {
		arch = types.ArchAArch64
	}

	hyp := hv.NewFakeHypervisor(512<<20, 1)
	reg := registry.New()
	em := events.New()
	vmFacade := vm.New(hyp, arch, em)
	if err := reg.Register("VirtualMachine", vmFacade); err != nil {
		return fmt.Errorf("register VM facade: %w", err)
	}
	if err := reg.Register("OperatingSystem", hv.NopOSFacade{}); err != nil {
		return fmt.Errorf("register OS facade: %w", err)
	}

	pluginMgr := plugin.New(reg)

	var slpCoord *slp.Coordinator
	var ssCoord *singlestep.Coordinator

	factories := []plugin.Factory{
		{Name: plugin.NameTaskSwitch, Arch: types.ArchAny, OS: types.OSAny, New: func() (plugin.Plugin, error) {
			return taskswitch.New(hyp, em, arch)
		}},
		{Name: plugin.NameSLP, Arch: types.ArchAny, OS: types.OSAny, New: func() (plugin.Plugin, error) {
			c, err := slp.New(hyp, em)
			slpCoord = c
			return c, err
		}},
		{Name: plugin.NameSingleStep, Arch: types.ArchAny, OS: types.OSAny, New: func() (plugin.Plugin, error) {
			c, err := singlestep.New(hyp, vmFacade, em, arch, 1)
			ssCoord = c
			return c, err
		}},
		{Name: plugin.NameBreakpoint, Arch: types.ArchAny, OS: types.OSAny, New: func() (plugin.Plugin, error) {
			return breakpoint.New(hyp, em, vmFacade, slpCoord, ssCoord, 1)
		}},
	}
	for _, f := range factories {
		if _, err := pluginMgr.LoadPlugin(f, arch, types.OSAny); err != nil {
			return fmt.Errorf("load core plugin %q: %w", f.Name, err)
		}
	}
	defer pluginMgr.UnloadAll()

	fmt.Fprintf(out, "architecture: %s\n", arch)
	fmt.Fprintf(out, "metrics addr: %s\n", runtimeCfg.MetricsAddr)
	fmt.Fprintf(out, "registered services: %v\n", reg.Names())
	fmt.Fprintf(out, "loaded plugins (load order): %v\n", pluginMgr.Loaded())
	if len(pluginsCfg.Enabled) > 0 {
		fmt.Fprintf(out, "configured non-core plugins (no loader registered): %v\n", pluginsCfg.Enabled)
	}

	if runtimeCfg.SinkPath != "" {
		fs, err := sink.NewFileSink(runtimeCfg.SinkPath)
		if err != nil {
			return fmt.Errorf("open event sink %q: %w", runtimeCfg.SinkPath, err)
		}
		defer fs.Close()
		records, err := fs.ReadAll()
		if err != nil {
			return fmt.Errorf("read event sink: %w", err)
		}
		fmt.Fprintf(out, "event sink %q: %d recorded events\n", runtimeCfg.SinkPath, len(records))
		counts := make(map[types.Kind]int)
		for _, r := range records {
			counts[r.Kind]++
		}
		for kind, n := range counts {
			fmt.Fprintf(out, "  %s: %d\n", kind, n)
		}
	} else {
		fmt.Fprintln(out, "event sink: none configured")
	}
	return nil
}

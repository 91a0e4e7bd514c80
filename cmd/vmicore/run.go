package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/vmicore/pkg/breakpoint"
	"github.com/cuemby/vmicore/pkg/events"
	"github.com/cuemby/vmicore/pkg/hv"
	"github.com/cuemby/vmicore/pkg/log"
	"github.com/cuemby/vmicore/pkg/metrics"
	"github.com/cuemby/vmicore/pkg/plugin"
	"github.com/cuemby/vmicore/pkg/registry"
	"github.com/cuemby/vmicore/pkg/singlestep"
	"github.com/cuemby/vmicore/pkg/sink"
	"github.com/cuemby/vmicore/pkg/slp"
	"github.com/cuemby/vmicore/pkg/taskswitch"
	"github.com/cuemby/vmicore/pkg/types"
	"github.com/cuemby/vmicore/pkg/vm"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the VMI run loop",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().Int("ram-mb", 512, "Guest RAM size in MB (fake hypervisor only)")
	runCmd.Flags().Int("cpus", 1, "Number of vCPUs (fake hypervisor only)")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("cmd")

	_, runtimeCfg, pluginsCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	archFlag, _ := cmd.Flags().GetString("arch")
	arch := types.ArchX86_64
	if archFlag == "aarch64" {
		arch = types.ArchAArch64
	}
	ramMB, _ := cmd.Flags().GetInt("ram-mb")
	numCPUs, _ := cmd.Flags().GetInt("cpus")
	if numCPUs < 1 {
		numCPUs = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No real hypervisor binding ships in this module (out of scope: the
	// hypervisor trap ABI is defined, not implemented). FakeHypervisor
	// stands in for whatever control channel a production build binds
	// Hypervisor to.
	hyp := hv.NewFakeHypervisor(uint64(ramMB)<<20, numCPUs)
	if err := hyp.Init(ctx); err != nil {
		return fmt.Errorf("init hypervisor: %w", err)
	}
	defer hyp.Uninit(ctx)

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
	var bpCoord *breakpoint.Coordinator
	var tsCoord *taskswitch.Coordinator

	factories := []plugin.Factory{
		{Name: plugin.NameTaskSwitch, Arch: types.ArchAny, OS: types.OSAny, New: func() (plugin.Plugin, error) {
			c, err := taskswitch.New(hyp, em, arch)
			tsCoord = c
			return c, err
		}},
		{Name: plugin.NameSLP, Arch: types.ArchAny, OS: types.OSAny, New: func() (plugin.Plugin, error) {
			c, err := slp.New(hyp, em)
			slpCoord = c
			return c, err
		}},
		{Name: plugin.NameSingleStep, Arch: types.ArchAny, OS: types.OSAny, New: func() (plugin.Plugin, error) {
			c, err := singlestep.New(hyp, vmFacade, em, arch, numCPUs)
			ssCoord = c
			return c, err
		}},
		{Name: plugin.NameBreakpoint, Arch: types.ArchAny, OS: types.OSAny, New: func() (plugin.Plugin, error) {
			c, err := breakpoint.New(hyp, em, vmFacade, slpCoord, ssCoord, numCPUs)
			bpCoord = c
			return c, err
		}},
	}
	for _, f := range factories {
		if _, err := pluginMgr.LoadPlugin(f, arch, types.OSAny); err != nil {
			return fmt.Errorf("load core plugin %q: %w", f.Name, err)
		}
	}
	if len(pluginsCfg.Enabled) > 0 {
		logger.Warn().Strs("plugins", pluginsCfg.Enabled).Msg("non-core plugins configured but no loader is registered for them")
	}
	defer pluginMgr.UnloadAll()

	var eventSink sink.EventSink = sink.NopSink{}
	if runtimeCfg.SinkPath != "" {
		fs, err := sink.NewFileSink(runtimeCfg.SinkPath)
		if err != nil {
			return fmt.Errorf("open event sink: %w", err)
		}
		defer fs.Close()
		eventSink = fs
	}
	if err := em.RequestEvent(&events.Subscription{
		Kind: types.KindWildcard,
		Callback: func(e types.Event) {
			if err := eventSink.Write(e); err != nil {
				logger.Error().Err(err).Msg("write event to sink")
			}
		},
	}, false); err != nil {
		return fmt.Errorf("subscribe event sink: %w", err)
	}

	collector := metrics.NewCollector(bpCoord, tsCoord, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterHealthSource("hypervisor", hyp)
	metrics.RegisterHealthSource("event_manager", em)
	metrics.RegisterHealthSource("plugin_manager", pluginMgr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	server := &http.Server{Addr: runtimeCfg.MetricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	defer server.Close()
	logger.Info().Str("addr", runtimeCfg.MetricsAddr).Msg("metrics/health endpoints listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	logger.Info().Str("arch", string(arch)).Int("cpus", numCPUs).Msg("starting run loop")
	if err := em.RunLoop(ctx, hyp); err != nil && err != context.Canceled {
		return fmt.Errorf("run loop: %w", err)
	}
	return nil
}

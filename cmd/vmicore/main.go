// Command vmicore embeds the VMI run loop behind a small CLI: `run` wires
// configuration, the hypervisor connection, and every coordinator plugin
// together and drives the event loop until shutdown; `inspect` loads the
// same configuration and dumps what would load, for operator debugging.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/vmicore/pkg/config"
	"github.com/cuemby/vmicore/pkg/log"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vmicore",
	Short:   "Embedded virtual-machine-introspection runtime",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringSlice("config", nil, "YAML config file(s), later files override earlier ones")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs as JSON")
	rootCmd.PersistentFlags().String("arch", "x86_64", "Guest architecture (x86_64, aarch64)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

// loadConfig reads the --config flag's files and decodes the sections
// every subcommand needs.
func loadConfig(cmd *cobra.Command) (*config.Config, config.RuntimeSection, config.PluginsSection, error) {
	paths, _ := cmd.Flags().GetStringSlice("config")

	runtime := config.RuntimeSection{
		HypervisorAddr: "fake",
		MetricsAddr:    "127.0.0.1:9090",
	}
	var plugins config.PluginsSection

	if len(paths) == 0 {
		return &config.Config{}, runtime, plugins, nil
	}

	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, runtime, plugins, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Unmarshal("Runtime", &runtime); err != nil {
		return nil, runtime, plugins, fmt.Errorf("decode Runtime section: %w", err)
	}
	if err := cfg.Unmarshal("Plugins", &plugins); err != nil {
		return nil, runtime, plugins, fmt.Errorf("decode Plugins section: %w", err)
	}
	return cfg, runtime, plugins, nil
}

package config

// LoggingSection binds the "logging" configuration section.
type LoggingSection struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// RuntimeSection binds the "Runtime" configuration section: top-level
// knobs for the hypervisor connection and the event-sink backend.
type RuntimeSection struct {
	HypervisorAddr string `yaml:"hypervisor_addr"`
	SinkPath       string `yaml:"sink_path"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

// PluginsSection binds the "Plugins" configuration section: an ordered
// list of optional (non-core) plugin names. The CLI reports these names;
// it does not load them.
type PluginsSection struct {
	Enabled []string `yaml:"enabled"`
}

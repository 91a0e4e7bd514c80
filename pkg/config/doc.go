/*
Package config loads the runtime's YAML configuration.

# Usage

	cfg, err := config.Load("/etc/vmicore/base.yaml", "/etc/vmicore/host.yaml")

	var logging config.LoggingSection
	logging.Level = "info" // defaults, overwritten by Unmarshal if present
	cfg.Unmarshal("logging", &logging)

	var slp struct {
		DefaultPerm string `yaml:"default_perm"`
	}
	cfg.Unmarshal("SLP", &slp)

# Design Notes

Sections merge deep across files (a later file's "Breakpoint.max_armed" key
overrides just that key, not the whole Breakpoint section), matching the
recursive merge used by the configuration layer this design is based on.
Unmarshal leaves out untouched when a section is absent, so callers set
defaults on their struct before calling it rather than relying on this
package for default values.
*/
package config

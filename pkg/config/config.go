// Package config loads and merges the runtime's YAML configuration files.
// Configuration is organized into named sections (one per plugin or
// ambient concern — "logging", "VirtualMachine", "Breakpoint", ...); later
// files deep-merge into earlier ones instead of replacing a section
// outright, so an operator can layer a base config with host-specific
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the merged configuration data, keyed by section name.
type Config struct {
	sections map[string]interface{}
}

// Load reads and deep-merges one or more YAML files, in order. Later files
// win on scalar conflicts; nested maps merge key-by-key rather than being
// replaced wholesale, mirroring how the original design this runtime is
// based on layers configuration files.
func Load(paths ...string) (*Config, error) {
	cfg := &Config{sections: make(map[string]interface{})}
	for _, path := range paths {
		full, err := expandPath(path)
		if err != nil {
			return nil, fmt.Errorf("config path %q: %w", path, err)
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", full, err)
		}
		var parsed map[string]interface{}
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", full, err)
		}
		mergeMaps(cfg.sections, parsed)
	}
	return cfg, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

// mergeMaps merges src into dst in place. A key present in both whose
// values are maps is merged recursively; otherwise src's value wins.
func mergeMaps(dst, src map[string]interface{}) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		srcMap, srcIsMap := v.(map[string]interface{})
		dstMap, dstIsMap := existing.(map[string]interface{})
		if srcIsMap && dstIsMap {
			mergeMaps(dstMap, srcMap)
		} else {
			dst[k] = v
		}
	}
}

// Section returns the raw section named by key, and whether it was
// present in any loaded file.
func (c *Config) Section(name string) (interface{}, bool) {
	v, ok := c.sections[name]
	return v, ok
}

// Unmarshal decodes section name into out, which must be a pointer. If the
// section is absent, out is left untouched and no error is returned — every
// plugin's config struct is expected to carry its own defaults before
// calling Unmarshal.
func (c *Config) Unmarshal(name string, out interface{}) error {
	section, ok := c.sections[name]
	if !ok {
		return nil
	}
	// Round-trip through YAML so arbitrary map[string]interface{} data
	// (the shape produced by yaml.Unmarshal into `interface{}`) decodes
	// into a concrete struct with the usual yaml struct-tag rules.
	raw, err := yaml.Marshal(section)
	if err != nil {
		return fmt.Errorf("remarshal section %q: %w", name, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal section %q: %w", name, err)
	}
	return nil
}

// SectionNames returns every section name present after merging, in no
// particular order.
func (c *Config) SectionNames() []string {
	names := make([]string, 0, len(c.sections))
	for name := range c.sections {
		names = append(names, name)
	}
	return names
}

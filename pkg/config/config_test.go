package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "base.yaml", `
logging:
  level: debug
  json_output: true
SLP:
  default_perm: rx
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var logging LoggingSection
	if err := cfg.Unmarshal("logging", &logging); err != nil {
		t.Fatalf("Unmarshal logging: %v", err)
	}
	if logging.Level != "debug" || !logging.JSONOutput {
		t.Errorf("logging = %+v, want debug/true", logging)
	}
}

func TestLoadMergesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	base := writeTempConfig(t, dir, "base.yaml", `
Breakpoint:
  max_armed: 64
  trace: false
`)
	override := writeTempConfig(t, dir, "host.yaml", `
Breakpoint:
  trace: true
`)
	cfg, err := Load(base, override)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var bp struct {
		MaxArmed int  `yaml:"max_armed"`
		Trace    bool `yaml:"trace"`
	}
	if err := cfg.Unmarshal("Breakpoint", &bp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if bp.MaxArmed != 64 {
		t.Errorf("MaxArmed = %d, want 64 (preserved from base)", bp.MaxArmed)
	}
	if !bp.Trace {
		t.Error("Trace = false, want true (overridden by host.yaml)")
	}
}

func TestUnmarshalMissingSectionLeavesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "base.yaml", `logging:
  level: info
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	taskswitch := PluginsSection{Enabled: []string{"default"}}
	if err := cfg.Unmarshal("Plugins", &taskswitch); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(taskswitch.Enabled) != 1 || taskswitch.Enabled[0] != "default" {
		t.Errorf("Enabled = %v, want defaults preserved", taskswitch.Enabled)
	}
}

func TestSectionNames(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "base.yaml", `
logging:
  level: info
SLP:
  default_perm: rx
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	names := cfg.SectionNames()
	if len(names) != 2 {
		t.Errorf("SectionNames() = %v, want 2 entries", names)
	}
}

package main

import "testing"

func TestLoadConfigDefaultsWithoutConfigFlag(t *testing.T) {
	cmd := rootCmd
	cmd.Flags().Set("config", "")

	_, runtimeCfg, pluginsCfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if runtimeCfg.HypervisorAddr != "fake" {
		t.Errorf("HypervisorAddr = %q, want %q", runtimeCfg.HypervisorAddr, "fake")
	}
	if runtimeCfg.MetricsAddr != "127.0.0.1:9090" {
		t.Errorf("MetricsAddr = %q, want %q", runtimeCfg.MetricsAddr, "127.0.0.1:9090")
	}
	if runtimeCfg.SinkPath != "" {
		t.Errorf("SinkPath = %q, want empty", runtimeCfg.SinkPath)
	}
	if len(pluginsCfg.Enabled) != 0 {
		t.Errorf("Enabled = %v, want empty", pluginsCfg.Enabled)
	}
}

func TestLoadConfigMissingFileReturnsError(t *testing.T) {
	cmd := rootCmd
	if err := cmd.Flags().Set("config", "/nonexistent/path/to/vmicore.yaml"); err != nil {
		t.Fatalf("set config flag: %v", err)
	}
	defer cmd.Flags().Set("config", "")

	if _, _, _, err := loadConfig(cmd); err == nil {
		t.Fatal("loadConfig: want error for missing config file, got nil")
	}
}

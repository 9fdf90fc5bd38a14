package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sleep.Threshold != 0.75 || cfg.Search.VectorWeight != 0.7 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.IndexPath != filepath.Join(".", "memory-index.db") {
		t.Fatalf("IndexPath = %q, want derived from memory root", cfg.IndexPath)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
memory_root: /tmp/agent-ws
context_window: 200000
search:
  max_results: 12
sleep:
  threshold: 0.6
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ContextWindow != 200000 || cfg.Search.MaxResults != 12 || cfg.Sleep.Threshold != 0.6 {
		t.Fatalf("file values did not override defaults: %+v", cfg)
	}
	if cfg.Search.VectorWeight != 0.7 {
		t.Fatal("unset fields lost their defaults")
	}
	if cfg.IndexPath != filepath.Join("/tmp/agent-ws", "memory-index.db") {
		t.Fatalf("IndexPath = %q", cfg.IndexPath)
	}
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := writeConfig(t, "sleep: [not, a, mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestLegacyFlushMigration(t *testing.T) {
	path := writeConfig(t, `
memory_flush:
  threshold: 0.5
  cooldown_minutes: 30
  min_messages: 4
  soft_threshold_tokens: 20000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MemoryFlush != nil {
		t.Fatal("legacy block must be consumed at load time")
	}
	if cfg.Sleep.Threshold != 0.5 || cfg.Sleep.CooldownMinutes != 30 ||
		cfg.Sleep.MinMessagesToSleep != 4 || cfg.Sleep.SoftThresholdTokens != 20000 {
		t.Fatalf("legacy values not migrated: %+v", cfg.Sleep)
	}
}

func TestLegacyFlushLosesToExplicitSleep(t *testing.T) {
	path := writeConfig(t, `
sleep:
  threshold: 0.9
memory_flush:
  threshold: 0.5
  cooldown_minutes: 30
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sleep.Threshold != 0.9 {
		t.Fatalf("explicit sleep.threshold overridden by legacy value: %f", cfg.Sleep.Threshold)
	}
	if cfg.Sleep.CooldownMinutes != 30 {
		t.Fatalf("legacy cooldown should fill the default gap, got %d", cfg.Sleep.CooldownMinutes)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opensyria/cryptonight-miner/common/memory"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}

	mode, err := cfg.MemoryMode()
	if err != nil {
		t.Fatalf("Default memory mode invalid: %v", err)
	}
	if mode != memory.WarnSlow {
		t.Errorf("Default memory mode = %v, want WarnSlow", mode)
	}
}

func TestLoadConfig(t *testing.T) {
	raw := `
instance:
  id: rig-1
  name: Test Rig
mining:
  slow_memory: no_mlock
  threads:
    - multiway: 2
      cpu_aff: 0
    - multiway: 4
      cpu_aff: -1
metrics:
  enabled: true
  listen: ":9100"
dashboard:
  enabled: true
  listen: ":8088"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Loaded config invalid: %v", err)
	}

	if cfg.Instance.ID != "rig-1" {
		t.Errorf("instance.id = %q", cfg.Instance.ID)
	}
	if len(cfg.Mining.Threads) != 2 {
		t.Fatalf("Expected 2 threads, got %d", len(cfg.Mining.Threads))
	}
	if cfg.Mining.Threads[0].Multiway != 2 || cfg.Mining.Threads[0].CPUAffinity != 0 {
		t.Errorf("threads[0] = %+v", cfg.Mining.Threads[0])
	}
	if cfg.Mining.Threads[1].CPUAffinity != -1 {
		t.Errorf("threads[1].cpu_aff = %d, want -1", cfg.Mining.Threads[1].CPUAffinity)
	}

	// Defaults survive a partial file.
	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level = %q, want default", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadWidth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mining.Threads = []ThreadConfig{{Multiway: 3, CPUAffinity: -1}}

	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for multiway 3")
	}
}

func TestValidateRejectsBadMemoryMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mining.SlowMemory = "maybe"

	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for bad slow_memory")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/does/not/exist.yaml"); err == nil {
		t.Error("Expected error for missing file")
	}
}

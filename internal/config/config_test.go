package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Engine.SlotDuration.Std() != time.Second {
		t.Errorf("SlotDuration = %s, want 1s", cfg.Engine.SlotDuration)
	}
	if cfg.Archive.Enabled {
		t.Error("archive enabled by default")
	}
}

func TestLoad_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  addr: ":9090"
  log_level: debug
engine:
  slot_duration: 250ms
  target_delay: 120
archive:
  enabled: true
  bucket: slotq-archive
  region: us-east-1
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Engine.SlotDuration.Std() != 250*time.Millisecond {
		t.Errorf("SlotDuration = %s, want 250ms", cfg.Engine.SlotDuration)
	}
	if cfg.Engine.TargetDelay != 120 {
		t.Errorf("TargetDelay = %d, want 120", cfg.Engine.TargetDelay)
	}
	// Untouched values keep their defaults.
	if cfg.Engine.MaxScheduleDistance != 100_000 {
		t.Errorf("MaxScheduleDistance = %d, want 100000", cfg.Engine.MaxScheduleDistance)
	}
	if cfg.Archive.Bucket != "slotq-archive" {
		t.Errorf("Bucket = %q", cfg.Archive.Bucket)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero slot duration", func(c *Config) { c.Engine.SlotDuration = 0 }, false},
		{"zero horizon", func(c *Config) { c.Engine.MaxScheduleDistance = 0 }, false},
		{"lookahead past horizon", func(c *Config) { c.Engine.MaxLookahead = c.Engine.MaxScheduleDistance + 1 }, false},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true }, false},
		{"archive with bucket", func(c *Config) { c.Archive.Enabled = true; c.Archive.Bucket = "b" }, true},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(&cfg)
		err := cfg.Validate()
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

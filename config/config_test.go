package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Listen == "" || cfg.DBPath == "" || cfg.CacheCapacity <= 0 {
		t.Errorf("defaults incomplete: %+v", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "listen: \":9999\"\ncache_capacity: 16\ndebug: true\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != ":9999" || cfg.CacheCapacity != 16 || !cfg.Debug {
		t.Errorf("file values not applied: %+v", cfg)
	}
	// Unset keys keep defaults.
	if cfg.DBPath != Default().DBPath {
		t.Errorf("unset key lost its default: %s", cfg.DBPath)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file failed: %v", err)
	}
	if cfg.Listen != Default().Listen {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRAPHMIRROR_LISTEN", ":4242")
	t.Setenv("GRAPHMIRROR_CACHE", "99")

	cfg := FromEnv()
	if cfg.Listen != ":4242" {
		t.Errorf("env listen not applied: %s", cfg.Listen)
	}
	if cfg.CacheCapacity != 99 {
		t.Errorf("env cache capacity not applied: %d", cfg.CacheCapacity)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8000" {
		t.Fatalf("addr=%q want :8000", cfg.Addr)
	}
	if cfg.Log.Level != "info" || !cfg.MetricsEnabled || cfg.MetricsPath != "/metrics" {
		t.Fatalf("defaults wrong: %+v", cfg)
	}
	if cfg.MaxPreviewSize != 1024 || cfg.Mosaic.CacheSize != 128 {
		t.Fatalf("size defaults wrong: %+v", cfg)
	}
	if cfg.ReadTimeout != 15*time.Second || cfg.WriteTimeout != 60*time.Second {
		t.Fatalf("timeout defaults wrong: %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ADDR", ":9100")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("MAX_PREVIEW_SIZE", "2048")
	t.Setenv("DEFAULT_BANDS", "red, green , nir")
	t.Setenv("MOSAIC_REDIS_ADDR", "localhost:6379")
	t.Setenv("READ_TIMEOUT", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9100" || cfg.Log.Level != "debug" || cfg.MetricsEnabled {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.MaxPreviewSize != 2048 {
		t.Fatalf("max_preview_size=%d", cfg.MaxPreviewSize)
	}
	want := []string{"red", "green", "nir"}
	if len(cfg.DefaultBands) != 3 {
		t.Fatalf("default bands=%v want %v", cfg.DefaultBands, want)
	}
	for i := range want {
		if cfg.DefaultBands[i] != want[i] {
			t.Fatalf("default bands=%v want %v", cfg.DefaultBands, want)
		}
	}
	if cfg.Mosaic.RedisAddr != "localhost:6379" || cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestLoad_YAMLFileThenEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "addr: \":7000\"\nlog:\n  level: warn\nmosaic:\n  cache_size: 16\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TILESERV_CONFIG", path)
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7000" {
		t.Fatalf("yaml addr not applied: %q", cfg.Addr)
	}
	if cfg.Log.Level != "error" {
		t.Fatalf("env should win over yaml, got %q", cfg.Log.Level)
	}
	if cfg.Mosaic.CacheSize != 16 {
		t.Fatalf("yaml mosaic cache_size not applied: %d", cfg.Mosaic.CacheSize)
	}
}

func TestLoad_MissingNamedFileFails(t *testing.T) {
	t.Setenv("TILESERV_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("missing named config file accepted")
	}
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("MAX_PREVIEW_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("max_preview_size 0 accepted")
	}
}

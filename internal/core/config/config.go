// Package config resolves service configuration: built-in defaults, an
// optional YAML file named by TILESERV_CONFIG, then environment variables
// on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LogCfg struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	// File enables rotated file output alongside stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MosaicCfg struct {
	// RedisAddr enables the redis manifest backend when non-empty.
	RedisAddr string `yaml:"redis_addr"`
	CacheSize int    `yaml:"cache_size"`
	// StrictZoom rejects tile requests outside the manifest zoom range.
	StrictZoom bool `yaml:"strict_zoom"`
}

type Config struct {
	Addr           string        `yaml:"addr"`
	Log            LogCfg        `yaml:"log"`
	MetricsEnabled bool          `yaml:"metrics_enabled"`
	MetricsPath    string        `yaml:"metrics_path"`
	CacheControl   string        `yaml:"cache_control"`
	MaxPreviewSize int           `yaml:"max_preview_size"`
	GDALThreads    string        `yaml:"gdal_threads"`
	DefaultBands   []string      `yaml:"default_bands"`
	Mosaic         MosaicCfg     `yaml:"mosaic"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

func defaults() Config {
	return Config{
		Addr:           ":8000",
		Log:            LogCfg{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 14},
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
		CacheControl:   "public, max-age=3600",
		MaxPreviewSize: 1024,
		GDALThreads:    "ALL_CPUS",
		Mosaic:         MosaicCfg{CacheSize: 128},
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
	}
}

// Load resolves the effective configuration. A missing config file is an
// error only when one was explicitly named.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("TILESERV_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg.Addr = getenv("ADDR", cfg.Addr)
	cfg.Log.Level = getenv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Console = getbool("LOG_CONSOLE", cfg.Log.Console)
	cfg.Log.File = getenv("LOG_FILE", cfg.Log.File)
	cfg.Log.MaxSizeMB = getint("LOG_MAX_SIZE_MB", cfg.Log.MaxSizeMB)
	cfg.Log.MaxBackups = getint("LOG_MAX_BACKUPS", cfg.Log.MaxBackups)
	cfg.Log.MaxAgeDays = getint("LOG_MAX_AGE_DAYS", cfg.Log.MaxAgeDays)
	cfg.MetricsEnabled = getbool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsPath = getenv("METRICS_PATH", cfg.MetricsPath)
	cfg.CacheControl = getenv("CACHE_CONTROL", cfg.CacheControl)
	cfg.MaxPreviewSize = getint("MAX_PREVIEW_SIZE", cfg.MaxPreviewSize)
	cfg.GDALThreads = getenv("GDAL_NUM_THREADS", cfg.GDALThreads)
	if v := getenv("DEFAULT_BANDS", ""); v != "" {
		cfg.DefaultBands = splitList(v)
	}
	cfg.Mosaic.RedisAddr = getenv("MOSAIC_REDIS_ADDR", cfg.Mosaic.RedisAddr)
	cfg.Mosaic.CacheSize = getint("MOSAIC_CACHE_SIZE", cfg.Mosaic.CacheSize)
	cfg.Mosaic.StrictZoom = getbool("MOSAIC_STRICT_ZOOM", cfg.Mosaic.StrictZoom)
	cfg.ReadTimeout = getduration("READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getduration("WRITE_TIMEOUT", cfg.WriteTimeout)

	if cfg.MaxPreviewSize < 1 {
		return cfg, fmt.Errorf("max_preview_size must be positive, got %d", cfg.MaxPreviewSize)
	}
	if cfg.Mosaic.CacheSize < 1 {
		return cfg, fmt.Errorf("mosaic cache_size must be positive, got %d", cfg.Mosaic.CacheSize)
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// splitList parses "red,green,nir" into a trimmed slice.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Package config provides configuration for the graphmirror server and CLI.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	// Listen is the address the authoritative server listens on.
	Listen string `yaml:"listen"`
	// DBPath is the SQLite asset database path.
	DBPath string `yaml:"db_path"`
	// CacheCapacity bounds the mirror-side asset cache.
	CacheCapacity int `yaml:"cache_capacity"`
	// Version is the server version string.
	Version string `yaml:"version"`
	// Debug enables request debug logging.
	Debug bool `yaml:"debug"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Listen:        ":7461",
		DBPath:        "./data/graphmirror.db",
		CacheCapacity: 4096,
		Version:       "0.1.0",
	}
}

// Load reads a YAML config file and applies env overrides on top. A missing
// path yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		path = os.ExpandEnv(path)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyEnv(cfg), nil
			}
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	return applyEnv(cfg), nil
}

// FromEnv returns defaults with env overrides, no file involved.
func FromEnv() *Config {
	return applyEnv(Default())
}

func applyEnv(cfg *Config) *Config {
	cfg.Listen = getEnv("GRAPHMIRROR_LISTEN", cfg.Listen)
	cfg.DBPath = getEnv("GRAPHMIRROR_DB", cfg.DBPath)
	cfg.CacheCapacity = getEnvInt("GRAPHMIRROR_CACHE", cfg.CacheCapacity)
	cfg.Version = getEnv("GRAPHMIRROR_VERSION", cfg.Version)
	cfg.Debug = getEnvBool("GRAPHMIRROR_DEBUG", cfg.Debug)
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

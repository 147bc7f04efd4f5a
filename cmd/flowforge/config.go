package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rendis/flowforge/internal/engine"
)

// Config holds CLI configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	FlowsDir  string `json:"flows_dir"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	Debug     bool   `json:"debug"`
	PoolSize  int    `json:"pool_size"`
}

func defaultConfig() Config {
	return Config{
		FlowsDir:  ".",
		LogLevel:  "info",
		LogFormat: "text",
		PoolSize:  engine.DefaultPoolSize,
	}
}

func flowforgeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowforge"
	}
	return filepath.Join(home, ".flowforge")
}

func settingsPath() string {
	return filepath.Join(flowforgeDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWFORGE_FLOWS_DIR"); v != "" {
		cfg.FlowsDir = v
	}
	if v := os.Getenv("FLOWFORGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWFORGE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("FLOWFORGE_DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}
	if v := os.Getenv("FLOWFORGE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PoolSize = n
		}
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = engine.DefaultPoolSize
	}
	return cfg
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

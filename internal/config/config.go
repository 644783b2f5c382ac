// Package config holds runtime configuration and its on-disk persistence.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Polling interval bounds in milliseconds. User-supplied values are
// clamped into this range before use.
const (
	MinPollIntervalMs     = 3000
	MaxPollIntervalMs     = 60000
	DefaultPollIntervalMs = 5000
)

// Config is the process-level configuration, resolved once at startup
// from environment variables (loaded via .env by main) and defaults.
type Config struct {
	ConfigDir   string
	ListenAddr  string
	MetricsAddr string
	LogLevel    string
	LogFormat   string
	VerifySSL   bool
}

// Load resolves the configuration from the environment.
func Load() *Config {
	cfg := &Config{
		ConfigDir:   envOr("ESPULSE_CONFIG_DIR", defaultConfigDir()),
		ListenAddr:  envOr("ESPULSE_LISTEN", ":7655"),
		MetricsAddr: envOr("ESPULSE_METRICS_LISTEN", ":9156"),
		LogLevel:    envOr("ESPULSE_LOG_LEVEL", "info"),
		LogFormat:   envOr("ESPULSE_LOG_FORMAT", "auto"),
		VerifySSL:   envBool("ESPULSE_VERIFY_SSL", true),
	}
	return cfg
}

// ClampPollInterval forces a poll interval into the supported range.
func ClampPollInterval(ms int) int {
	if ms < MinPollIntervalMs {
		return MinPollIntervalMs
	}
	if ms > MaxPollIntervalMs {
		return MaxPollIntervalMs
	}
	return ms
}

func defaultConfigDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home + "/.espulse"
	}
	return "/etc/espulse"
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// This file contains environment variable utilities for configuration override.

package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// getEnvString returns the value of the environment variable with the given key
// (prefixed with EnvPrefix), or the default value if not set.
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the value of the environment variable with the given key
// (prefixed with EnvPrefix) parsed as int, or the default value if not set
// or invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

// getEnvInt64 returns the value of the environment variable with the given key
// (prefixed with EnvPrefix) parsed as int64, or the default value if not set
// or invalid.
func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

// getEnvBool returns the value of the environment variable with the given key
// (prefixed with EnvPrefix) parsed as bool, or the default value if not set.
// Accepts "true", "1", "yes" as true; "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}

// getEnvDuration returns the value of the environment variable with the given key
// (prefixed with EnvPrefix) parsed as time.Duration, or the default value if not
// set or invalid. Accepts formats like "5m", "30s", "1h30m".
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

// isFlagSet checks if a flag was explicitly set on the command line.
// This is used to determine whether to apply environment variable overrides.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// envOverride declares a single environment variable override.
// Each entry maps an env key (without the IMGLOADER_ prefix) to the CLI flag
// name it corresponds to and a function that applies the env value.
type envOverride struct {
	envKey string
	flag   string
	apply  func(*AppConfig)
}

// envOverrides is the declarative table of all environment variable overrides.
var envOverrides = []envOverride{
	{"OUT", "out", func(c *AppConfig) { c.OutputDir = getEnvString("OUT", c.OutputDir) }},
	{"WIDTH", "width", func(c *AppConfig) { c.TargetWidth = getEnvInt("WIDTH", c.TargetWidth) }},
	{"HEIGHT", "height", func(c *AppConfig) { c.TargetHeight = getEnvInt("HEIGHT", c.TargetHeight) }},
	{"FILL", "fill", func(c *AppConfig) { c.Fill = getEnvBool("FILL", c.Fill) }},
	{"CACHE_DIR", "cache-dir", func(c *AppConfig) { c.CacheDir = getEnvString("CACHE_DIR", c.CacheDir) }},
	{"MEM_CACHE", "mem-cache", func(c *AppConfig) { c.MemCacheBytes = getEnvInt64("MEM_CACHE", c.MemCacheBytes) }},
	{"TIMEOUT", "timeout", func(c *AppConfig) { c.Timeout = getEnvDuration("TIMEOUT", c.Timeout) }},
	{"MAX_FETCHES", "max-fetches", func(c *AppConfig) { c.MaxFetches = getEnvInt("MAX_FETCHES", c.MaxFetches) }},
	{"MAX_LOOKUPS", "max-lookups", func(c *AppConfig) { c.MaxLookups = getEnvInt("MAX_LOOKUPS", c.MaxLookups) }},
	{"MAX_DECODES", "max-decodes", func(c *AppConfig) { c.MaxDecodes = getEnvInt("MAX_DECODES", c.MaxDecodes) }},
	{"MAX_PROCESSES", "max-processes", func(c *AppConfig) { c.MaxProcesses = getEnvInt("MAX_PROCESSES", c.MaxProcesses) }},
	{"NO_CONGESTION", "no-congestion", func(c *AppConfig) { c.NoCongestion = getEnvBool("NO_CONGESTION", c.NoCongestion) }},
	{"METRICS_ADDR", "metrics-addr", func(c *AppConfig) { c.MetricsAddr = getEnvString("METRICS_ADDR", c.MetricsAddr) }},
}

// applyEnvOverrides applies every environment override whose corresponding
// flag was not explicitly set on the command line.
func applyEnvOverrides(cfg *AppConfig, fs *flag.FlagSet) {
	for _, o := range envOverrides {
		if isFlagSet(fs, o.flag) {
			continue
		}
		o.apply(cfg)
	}
}

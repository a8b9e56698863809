package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	apperrors "github.com/agbru/imgloader/internal/errors"
)

// EnvPrefix is prepended to every environment variable override key.
const EnvPrefix = "IMGLOADER_"

// Configuration resolution chain (highest priority first):
//  1. CLI flags (-width, -cache-dir, ...)
//  2. Environment variables (IMGLOADER_WIDTH, IMGLOADER_CACHE_DIR, ...)
//  3. Static defaults below.
const (
	DefaultOutputDir     = "."
	DefaultTimeout       = 60 * time.Second
	DefaultMaxFetches    = 6
	DefaultMaxLookups    = 2
	DefaultMaxDecodes    = 1
	DefaultMaxProcesses  = 2
	DefaultMemCacheBytes = 128 << 20
)

// AppConfig holds the effective application configuration.
type AppConfig struct {
	// URLs are the resources to load (positional arguments).
	URLs []string
	// OutputDir receives the decoded results as PNG files.
	OutputDir string
	// TargetWidth/TargetHeight set the decompression target; zero keeps
	// full size.
	TargetWidth  int
	TargetHeight int
	// Fill selects aspect-fill (center-crop) instead of aspect-fit.
	Fill bool
	// CacheDir enables the disk cache when non-empty.
	CacheDir string
	// MemCacheBytes is the memory cache budget; negative disables it.
	MemCacheBytes int64
	// Timeout bounds each fetch.
	Timeout time.Duration
	// Concurrency caps per pipeline stage.
	MaxFetches   int
	MaxLookups   int
	MaxDecodes   int
	MaxProcesses int
	// NoCongestion disables deferred fetch admission.
	NoCongestion bool
	// MetricsAddr serves Prometheus metrics when non-empty (e.g. ":9100").
	MetricsAddr string
	// Verbose enables debug logging; Quiet suppresses the progress display.
	Verbose bool
	Quiet   bool
	// Version requests version output and exit.
	Version bool
}

// ParseConfig parses command-line arguments into an AppConfig, applying
// environment variable overrides for flags that were not set explicitly.
//
// Parameters:
//   - programName: The program name used in usage output.
//   - args: The command-line arguments (without the program name).
//   - errWriter: The writer for usage and error output.
//
// Returns:
//   - AppConfig: The effective configuration.
//   - error: A ConfigError for invalid input, or flag.ErrHelp.
func ParseConfig(programName string, args []string, errWriter io.Writer) (AppConfig, error) {
	cfg := AppConfig{
		OutputDir:     DefaultOutputDir,
		MemCacheBytes: DefaultMemCacheBytes,
		Timeout:       DefaultTimeout,
		MaxFetches:    DefaultMaxFetches,
		MaxLookups:    DefaultMaxLookups,
		MaxDecodes:    DefaultMaxDecodes,
		MaxProcesses:  DefaultMaxProcesses,
	}

	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(errWriter)
	fs.Usage = func() {
		fmt.Fprintf(errWriter, "Usage: %s [flags] URL [URL...]\n\nFlags:\n", programName)
		fs.PrintDefaults()
	}

	fs.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "output directory for decoded images")
	fs.IntVar(&cfg.TargetWidth, "width", 0, "target width in pixels (0 = full size)")
	fs.IntVar(&cfg.TargetHeight, "height", 0, "target height in pixels (0 = full size)")
	fs.BoolVar(&cfg.Fill, "fill", false, "aspect-fill (center-crop) instead of aspect-fit")
	fs.StringVar(&cfg.CacheDir, "cache-dir", "", "disk cache directory (empty = disabled)")
	fs.Int64Var(&cfg.MemCacheBytes, "mem-cache", cfg.MemCacheBytes, "memory cache budget in bytes (negative = disabled)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-fetch timeout")
	fs.IntVar(&cfg.MaxFetches, "max-fetches", cfg.MaxFetches, "maximum concurrent fetches")
	fs.IntVar(&cfg.MaxLookups, "max-lookups", cfg.MaxLookups, "maximum concurrent cache lookups")
	fs.IntVar(&cfg.MaxDecodes, "max-decodes", cfg.MaxDecodes, "maximum concurrent decodes")
	fs.IntVar(&cfg.MaxProcesses, "max-processes", cfg.MaxProcesses, "maximum concurrent processing chains")
	fs.BoolVar(&cfg.NoCongestion, "no-congestion", false, "disable deferred fetch admission")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty = disabled)")
	fs.BoolVar(&cfg.Verbose, "v", false, "verbose (debug) logging")
	fs.BoolVar(&cfg.Quiet, "q", false, "suppress progress display")
	fs.BoolVar(&cfg.Version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	applyEnvOverrides(&cfg, fs)
	cfg.URLs = fs.Args()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c AppConfig) Validate() error {
	if !c.Version && len(c.URLs) == 0 {
		return apperrors.NewConfigError("at least one URL is required")
	}
	if c.TargetWidth < 0 || c.TargetHeight < 0 {
		return apperrors.NewConfigError("target size must not be negative")
	}
	if (c.TargetWidth == 0) != (c.TargetHeight == 0) {
		return apperrors.NewConfigError("-width and -height must be set together")
	}
	if c.Timeout <= 0 {
		return apperrors.NewConfigError("timeout must be positive")
	}
	return nil
}

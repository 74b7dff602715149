// Package config loads codeindex settings from an optional YAML file and
// CODEINDEX_ environment variables, with defaults for every option.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the engine, the watcher and the CLI.
type Config struct {
	// DBPath is the SQLite database file (default: .codeindex/index.db).
	DBPath string `yaml:"db_path"`

	Workers           int   `yaml:"workers"`             // parse workers per batch (default: NumCPU)
	BatchSize         int   `yaml:"batch_size"`          // files per pipeline batch (default: 32)
	MaxFileSize       int64 `yaml:"max_file_size"`       // bytes; larger files are skipped (default: 10 MiB)
	MaxConcurrentJobs int   `yaml:"max_concurrent_jobs"` // jobs of distinct codebases run in parallel (default: 2)
	MaxJobErrors      int   `yaml:"max_job_errors"`      // per-file errors kept on a job (default: 100)

	QueryCacheSize    int           `yaml:"query_cache_size"`    // cached query responses (default: 256)
	LocalityCacheSize int           `yaml:"locality_cache_size"` // files tracked for locality ranking (default: 1024)
	TraceTimeBudget   time.Duration `yaml:"trace_time_budget"`   // default trace_data_flow budget (default: 5s)

	WatchDebounce time.Duration `yaml:"watch_debounce"` // quiet period before a change set is emitted (default: 200ms)
	WatchRate     float64       `yaml:"watch_rate"`     // incremental jobs per second (default: 1)
	WatchBurst    int           `yaml:"watch_burst"`    // (default: 1)

	ExcludeDirs     []string `yaml:"exclude_dirs"`
	IncludePatterns []string `yaml:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`

	// RulesDir holds additional .risor security rules.
	RulesDir string `yaml:"rules_dir"`
	LogLevel string `yaml:"log_level"` // debug, info, warn or error (default: info)
}

// DefaultExcludeDirs are skipped during discovery and watching.
var DefaultExcludeDirs = []string{
	".git", "node_modules", "vendor", "__pycache__", "dist", "build", "target", ".codeindex",
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		DBPath:            ".codeindex/index.db",
		Workers:           runtime.NumCPU(),
		BatchSize:         32,
		MaxFileSize:       10 << 20,
		MaxConcurrentJobs: 2,
		MaxJobErrors:      100,
		QueryCacheSize:    256,
		LocalityCacheSize: 1024,
		TraceTimeBudget:   5 * time.Second,
		WatchDebounce:     200 * time.Millisecond,
		WatchRate:         1,
		WatchBurst:        1,
		ExcludeDirs:       append([]string(nil), DefaultExcludeDirs...),
		LogLevel:          "info",
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty), then CODEINDEX_ environment variables, and validates
// the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setString("CODEINDEX_DB_PATH", &c.DBPath)
	setString("CODEINDEX_RULES_DIR", &c.RulesDir)
	setString("CODEINDEX_LOG_LEVEL", &c.LogLevel)
	errs = append(errs,
		setInt("CODEINDEX_WORKERS", &c.Workers),
		setInt("CODEINDEX_BATCH_SIZE", &c.BatchSize),
		setInt("CODEINDEX_MAX_CONCURRENT_JOBS", &c.MaxConcurrentJobs),
		setInt("CODEINDEX_MAX_JOB_ERRORS", &c.MaxJobErrors),
		setInt("CODEINDEX_QUERY_CACHE_SIZE", &c.QueryCacheSize),
		setInt("CODEINDEX_LOCALITY_CACHE_SIZE", &c.LocalityCacheSize),
		setInt("CODEINDEX_WATCH_BURST", &c.WatchBurst),
	)
	if v := os.Getenv("CODEINDEX_MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CODEINDEX_MAX_FILE_SIZE: %w", err))
		} else {
			c.MaxFileSize = n
		}
	}
	if v := os.Getenv("CODEINDEX_WATCH_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CODEINDEX_WATCH_RATE: %w", err))
		} else {
			c.WatchRate = f
		}
	}
	errs = append(errs,
		setDuration("CODEINDEX_WATCH_DEBOUNCE", &c.WatchDebounce),
		setDuration("CODEINDEX_TRACE_TIME_BUDGET", &c.TraceTimeBudget),
	)
	setList("CODEINDEX_EXCLUDE_DIRS", &c.ExcludeDirs)
	setList("CODEINDEX_INCLUDE_PATTERNS", &c.IncludePatterns)
	setList("CODEINDEX_EXCLUDE_PATTERNS", &c.ExcludePatterns)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// setList reads a comma-separated list.
func setList(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	positive := []struct {
		name string
		v    int64
	}{
		{"workers", int64(c.Workers)},
		{"batch_size", int64(c.BatchSize)},
		{"max_file_size", c.MaxFileSize},
		{"max_concurrent_jobs", int64(c.MaxConcurrentJobs)},
		{"max_job_errors", int64(c.MaxJobErrors)},
		{"query_cache_size", int64(c.QueryCacheSize)},
		{"locality_cache_size", int64(c.LocalityCacheSize)},
		{"watch_burst", int64(c.WatchBurst)},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.v))
		}
	}
	if c.WatchRate <= 0 {
		errs = append(errs, fmt.Errorf("watch_rate must be positive, got %v", c.WatchRate))
	}
	if c.WatchDebounce < 0 || c.TraceTimeBudget <= 0 {
		errs = append(errs, errors.New("watch_debounce must not be negative and trace_time_budget must be positive"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	for _, p := range append(append([]string(nil), c.IncludePatterns...), c.ExcludePatterns...) {
		if _, err := glob.Compile(p, '/'); err != nil {
			errs = append(errs, fmt.Errorf("pattern %q: %w", p, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseLevel maps a log level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

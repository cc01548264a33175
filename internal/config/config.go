// Package config holds the daemon's configuration: a nested struct with
// JSON-file loading and environment-variable overrides, in that order,
// following the same DefaultConfig/LoadFromFile/LoadFromEnv layering
// this project's ambient stack uses throughout.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// DaemonConfig holds the emulator's own HTTP listener settings.
type DaemonConfig struct {
	Addr     string `json:"addr"`      // e.g. "127.0.0.1:9000"
	LogLevel string `json:"log_level"` // debug, info, warn, error
}

// WatcherConfig holds hot-reload supervisor settings.
type WatcherConfig struct {
	IgnoreFiles    []string      `json:"ignore_files"`     // extra ignore-glob files, beyond the discovered ones
	IgnoreChanges  bool          `json:"ignore_changes"`   // disable the watcher entirely; the process is spawned once and never restarted
	ActionThrottle time.Duration `json:"action_throttle"`  // debounce window for filesystem events (default 3s)
	ShutdownGrace  time.Duration `json:"shutdown_grace"`   // time to wait after SIGTERM before SIGKILL
	OnlyLambdaAPIs bool          `json:"only_lambda_apis"` // expose only the runtime/extension surface, no trigger routes
}

// PoolConfig holds the optional concurrency-aware instance pool
// settings. MaxConcurrency of 1 (the default) disables the pool path:
// exactly one process is spawned per function.
type PoolConfig struct {
	MaxConcurrency int `json:"max_concurrency"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// OutputCaptureConfig holds function stdout/stderr capture settings.
type OutputCaptureConfig struct {
	Enabled    bool   `json:"enabled"`
	MaxSize    int64  `json:"max_size"`
	StorageDir string `json:"storage_dir"`
	RetentionS int    `json:"retention_s"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`
	Namespace        string    `json:"namespace"`
	HistogramBuckets []float64 `json:"histogram_buckets"`
}

// Config is the central configuration struct for the daemon (the
// "start" command's emulator + supervisor).
type Config struct {
	Daemon        DaemonConfig        `json:"daemon"`
	Watcher       WatcherConfig       `json:"watcher"`
	Pool          PoolConfig          `json:"pool"`
	Logging       LoggingConfig       `json:"logging"`
	OutputCapture OutputCaptureConfig `json:"output_capture"`
	Metrics       MetricsConfig       `json:"metrics"`

	// Env is passed through to every spawned function process, on top
	// of the fixed AWS_LAMBDA_* variables the supervisor always sets.
	Env map[string]string `json:"env"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Addr:     "127.0.0.1:9000",
			LogLevel: "info",
		},
		Watcher: WatcherConfig{
			ActionThrottle: 3 * time.Second,
			ShutdownGrace:  2 * time.Second,
		},
		Pool: PoolConfig{
			MaxConcurrency: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		OutputCapture: OutputCaptureConfig{
			Enabled:    true,
			MaxSize:    1 << 20, // 1MB
			StorageDir: "/tmp/lambdalocal/output",
			RetentionS: 3600,
		},
		Metrics: MetricsConfig{
			Enabled:          true,
			Namespace:        "lambdalocal",
			HistogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	}
}

// LoadFromFile loads configuration from a JSON file, layered on top of
// DefaultConfig so a partial file only overrides what it mentions.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LAMBDALOCAL_ADDR"); v != "" {
		cfg.Daemon.Addr = v
	}
	if v := os.Getenv("LAMBDALOCAL_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("LAMBDALOCAL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LAMBDALOCAL_IGNORE_FILES"); v != "" {
		cfg.Watcher.IgnoreFiles = strings.Split(v, string(os.PathListSeparator))
	}
	// CARGO_LAMBDA_IGNORE_FILES is honored alongside the project's own
	// LAMBDALOCAL_IGNORE_FILES so projects coming from cargo-lambda
	// migrate without edits. Both are merged rather than one overriding
	// the other, since they name independent ignore files.
	if v := os.Getenv("CARGO_LAMBDA_IGNORE_FILES"); v != "" {
		cfg.Watcher.IgnoreFiles = append(cfg.Watcher.IgnoreFiles, strings.Split(v, string(os.PathListSeparator))...)
	}
	if v := os.Getenv("LAMBDALOCAL_IGNORE_CHANGES"); v != "" {
		cfg.Watcher.IgnoreChanges = parseBool(v)
	}
	if v := os.Getenv("LAMBDALOCAL_ACTION_THROTTLE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watcher.ActionThrottle = d
		}
	}
	if v := os.Getenv("LAMBDALOCAL_SHUTDOWN_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watcher.ShutdownGrace = d
		}
	}
	if v := os.Getenv("LAMBDALOCAL_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxConcurrency = n
		}
	}
	if v := os.Getenv("LAMBDALOCAL_OUTPUT_CAPTURE_ENABLED"); v != "" {
		cfg.OutputCapture.Enabled = parseBool(v)
	}
	if v := os.Getenv("LAMBDALOCAL_OUTPUT_CAPTURE_DIR"); v != "" {
		cfg.OutputCapture.StorageDir = v
	}
	if v := os.Getenv("LAMBDALOCAL_OUTPUT_CAPTURE_MAX_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.OutputCapture.MaxSize = n
		}
	}
	if v := os.Getenv("LAMBDALOCAL_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("LAMBDALOCAL_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

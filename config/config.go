package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds storage-related configurations.
type EngineConfig struct {
	// DataDirs lists every data root. A table's files may be striped across several.
	DataDirs []string `yaml:"data_dirs"`
	// CatalogFile is where the schema catalog is persisted. Relative paths are
	// resolved against the first data directory.
	CatalogFile string `yaml:"catalog_file"`
}

// SnapshotConfig holds snapshot lifecycle configurations.
type SnapshotConfig struct {
	AutoSnapshot        bool   `yaml:"auto_snapshot"`
	AutoSnapshotTTL     string `yaml:"auto_snapshot_ttl"` // empty = non-expiring
	MinAllowedTTL       string `yaml:"min_allowed_ttl"`
	CleanupInitialDelay string `yaml:"cleanup_initial_delay"`
	CleanupPeriod       string `yaml:"cleanup_period"`
	// CaseInsensitiveTags overrides the platform default tag comparison when set.
	CaseInsensitiveTags *bool   `yaml:"case_insensitive_tags"`
	MaxDiskUsedPercent  float64 `yaml:"max_disk_used_percent"` // 0 disables the disk guard
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "stderr", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// MetricsConfig controls the Prometheus endpoint of the daemon.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// Config is the top-level configuration struct.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ResolvedSnapshotConfig is SnapshotConfig with every duration parsed.
type ResolvedSnapshotConfig struct {
	AutoSnapshot        bool
	AutoSnapshotTTL     *time.Duration
	MinAllowedTTL       time.Duration
	CleanupInitialDelay time.Duration
	CleanupPeriod       time.Duration
	CaseInsensitiveTags *bool
	MaxDiskUsedPercent  float64
}

const (
	DefaultMinAllowedTTL       = 60 * time.Second
	DefaultCleanupInitialDelay = 5 * time.Second
	DefaultCleanupPeriod       = 60 * time.Second
)

// parseSecondsOrDuration accepts Go duration syntax or a bare number of seconds.
func parseSecondsOrDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > math.MaxInt64/int64(time.Second) || n < math.MinInt64/int64(time.Second) {
			return 0, fmt.Errorf("%d seconds is out of range", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Resolve parses the string durations of the snapshot section. Malformed
// values are rejected rather than replaced by defaults.
func (c SnapshotConfig) Resolve() (ResolvedSnapshotConfig, error) {
	r := ResolvedSnapshotConfig{
		AutoSnapshot:        c.AutoSnapshot,
		MinAllowedTTL:       DefaultMinAllowedTTL,
		CleanupInitialDelay: DefaultCleanupInitialDelay,
		CleanupPeriod:       DefaultCleanupPeriod,
		CaseInsensitiveTags: c.CaseInsensitiveTags,
		MaxDiskUsedPercent:  c.MaxDiskUsedPercent,
	}

	parse := func(name, value string, dst *time.Duration) error {
		if value == "" {
			return nil
		}
		d, err := parseSecondsOrDuration(value)
		if err != nil {
			return fmt.Errorf("invalid snapshot.%s %q: %w", name, value, err)
		}
		if d < 0 {
			return fmt.Errorf("snapshot.%s must not be negative, got %s", name, value)
		}
		*dst = d
		return nil
	}

	if err := parse("min_allowed_ttl", c.MinAllowedTTL, &r.MinAllowedTTL); err != nil {
		return r, err
	}
	if err := parse("cleanup_initial_delay", c.CleanupInitialDelay, &r.CleanupInitialDelay); err != nil {
		return r, err
	}
	if err := parse("cleanup_period", c.CleanupPeriod, &r.CleanupPeriod); err != nil {
		return r, err
	}
	if r.CleanupPeriod == 0 {
		return r, fmt.Errorf("snapshot.cleanup_period must be positive")
	}
	if c.AutoSnapshotTTL != "" {
		var ttl time.Duration
		if err := parse("auto_snapshot_ttl", c.AutoSnapshotTTL, &ttl); err != nil {
			return r, err
		}
		r.AutoSnapshotTTL = &ttl
	}
	if c.MaxDiskUsedPercent < 0 || c.MaxDiskUsedPercent > 100 {
		return r, fmt.Errorf("snapshot.max_disk_used_percent must be within [0, 100], got %v", c.MaxDiskUsedPercent)
	}
	return r, nil
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Engine: EngineConfig{
			DataDirs:    []string{"./data"},
			CatalogFile: "catalog.gob",
		},
		Snapshot: SnapshotConfig{
			AutoSnapshot:        true,
			AutoSnapshotTTL:     "",
			MinAllowedTTL:       DefaultMinAllowedTTL.String(),
			CleanupInitialDelay: DefaultCleanupInitialDelay.String(),
			CleanupPeriod:       DefaultCleanupPeriod.String(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "tablesnap.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: "127.0.0.1:9464",
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if len(cfg.Engine.DataDirs) == 0 {
		return nil, fmt.Errorf("engine.data_dirs must list at least one directory")
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Package config loads and validates benchmark configuration from an
// optional ilpbench.toml file, ILPBENCH_* environment variables and
// built-in defaults, in that precedence order (CLI flags override on
// top, in cmd/ilpbench).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/basekick-labs/ilpbench/internal/dataset"
	"github.com/spf13/viper"
)

// ValidationError is a fatal configuration error; the run never starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid %s: %s", e.Field, e.Reason)
}

// Config holds all configuration for one benchmark invocation.
type Config struct {
	Dataset DatasetConfig
	Batch   BatchConfig
	Target  TargetConfig
	Bench   BenchConfig
	Log     LogConfig
}

type DatasetConfig struct {
	Measurement string
	Scale       int   // Simulated host count
	Rows        int   // Total rows per run
	FieldCount  int   // Usage columns per row (1..10)
	Seed        int64 // 0 picks a time-based seed at startup
	Start       string
	StepSeconds int
	Interleave  bool // Round-robin hosts per tick
}

type BatchConfig struct {
	MaxRows    int
	MaxBytes   int
	QueueDepth int // Bounded batch queue between generator and sender
}

type TargetConfig struct {
	Kind        string // tcp, http, file or null
	Host        string
	Port        int
	TLS         bool
	TLSInsecure bool
	Timeout     int // Seconds, per send

	// HTTP target only
	Database string
	Token    string
	Gzip     bool

	// File target only
	Path        string
	Compression string // none, gzip or zstd
}

type BenchConfig struct {
	Strategy        string // columnar or rows
	WarmupRows      int
	DurationSeconds int    // 0 runs the dataset to completion
	OnEncodeError   string // skip or abort
	ProgressSeconds int    // 0 disables progress snapshots
	JSONReport      bool
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from defaults, an optional config file and
// the environment. path overrides the config file search when set.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ILPBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ilpbench")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ilpbench/")
		v.AddConfigPath("$HOME/.ilpbench/")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// No config file is fine, defaults + env apply.
		}
	}

	cfg := &Config{
		Dataset: DatasetConfig{
			Measurement: v.GetString("dataset.measurement"),
			Scale:       v.GetInt("dataset.scale"),
			Rows:        v.GetInt("dataset.rows"),
			FieldCount:  v.GetInt("dataset.field_count"),
			Seed:        v.GetInt64("dataset.seed"),
			Start:       v.GetString("dataset.start"),
			StepSeconds: v.GetInt("dataset.step_seconds"),
			Interleave:  v.GetBool("dataset.interleave"),
		},
		Batch: BatchConfig{
			MaxRows:    v.GetInt("batch.max_rows"),
			MaxBytes:   v.GetInt("batch.max_bytes"),
			QueueDepth: v.GetInt("batch.queue_depth"),
		},
		Target: TargetConfig{
			Kind:        v.GetString("target.kind"),
			Host:        v.GetString("target.host"),
			Port:        v.GetInt("target.port"),
			TLS:         v.GetBool("target.tls"),
			TLSInsecure: v.GetBool("target.tls_insecure"),
			Timeout:     v.GetInt("target.timeout_seconds"),
			Database:    v.GetString("target.database"),
			Token:       v.GetString("target.token"),
			Gzip:        v.GetBool("target.gzip"),
			Path:        v.GetString("target.path"),
			Compression: v.GetString("target.compression"),
		},
		Bench: BenchConfig{
			Strategy:        v.GetString("bench.strategy"),
			WarmupRows:      v.GetInt("bench.warmup_rows"),
			DurationSeconds: v.GetInt("bench.duration_seconds"),
			OnEncodeError:   v.GetString("bench.on_encode_error"),
			ProgressSeconds: v.GetInt("bench.progress_seconds"),
			JSONReport:      v.GetBool("bench.json_report"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dataset.measurement", "cpu")
	v.SetDefault("dataset.scale", 4000)
	v.SetDefault("dataset.rows", 1_000_000)
	v.SetDefault("dataset.field_count", 10)
	v.SetDefault("dataset.seed", 0)
	v.SetDefault("dataset.start", "2016-01-01T00:00:00Z")
	v.SetDefault("dataset.step_seconds", 10)
	v.SetDefault("dataset.interleave", true)

	v.SetDefault("batch.max_rows", 10_000)
	v.SetDefault("batch.max_bytes", 1024*1024)
	v.SetDefault("batch.queue_depth", 4)

	v.SetDefault("target.kind", "tcp")
	v.SetDefault("target.host", "localhost")
	v.SetDefault("target.port", 9009)
	v.SetDefault("target.timeout_seconds", 30)
	v.SetDefault("target.database", "default")
	v.SetDefault("target.compression", "none")

	v.SetDefault("bench.strategy", "columnar")
	v.SetDefault("bench.warmup_rows", 0)
	v.SetDefault("bench.duration_seconds", 0)
	v.SetDefault("bench.on_encode_error", "skip")
	v.SetDefault("bench.progress_seconds", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks every parameter the pipeline depends on. All
// violations surface as *ValidationError before any send happens.
func (c *Config) Validate() error {
	d := c.Dataset
	if d.Scale <= 0 {
		return &ValidationError{Field: "dataset.scale", Reason: "must be positive"}
	}
	if d.Rows <= 0 {
		return &ValidationError{Field: "dataset.rows", Reason: "must be positive"}
	}
	if d.FieldCount <= 0 || d.FieldCount > dataset.MaxFieldCount {
		return &ValidationError{
			Field:  "dataset.field_count",
			Reason: fmt.Sprintf("must be in 1..%d", dataset.MaxFieldCount),
		}
	}
	if d.StepSeconds <= 0 {
		return &ValidationError{Field: "dataset.step_seconds", Reason: "must be positive"}
	}
	if d.Start != "" {
		if _, err := time.Parse(time.RFC3339, d.Start); err != nil {
			return &ValidationError{Field: "dataset.start", Reason: "must be RFC 3339"}
		}
	}

	if c.Batch.MaxRows <= 0 {
		return &ValidationError{Field: "batch.max_rows", Reason: "must be positive"}
	}
	if c.Batch.MaxBytes <= 0 {
		return &ValidationError{Field: "batch.max_bytes", Reason: "must be positive"}
	}
	if c.Batch.QueueDepth <= 0 {
		return &ValidationError{Field: "batch.queue_depth", Reason: "must be positive"}
	}

	switch c.Target.Kind {
	case "tcp", "http":
		if c.Target.Host == "" {
			return &ValidationError{Field: "target.host", Reason: "must be set"}
		}
		if c.Target.Port <= 0 || c.Target.Port > 65535 {
			return &ValidationError{Field: "target.port", Reason: "must be in 1..65535"}
		}
	case "file":
		// Empty path means discard, which is valid.
		switch c.Target.Compression {
		case "", "none", "gzip", "zstd":
		default:
			return &ValidationError{Field: "target.compression", Reason: "must be none, gzip or zstd"}
		}
	case "null":
	default:
		return &ValidationError{Field: "target.kind", Reason: "must be tcp, http, file or null"}
	}
	if c.Target.Timeout <= 0 {
		return &ValidationError{Field: "target.timeout_seconds", Reason: "must be positive"}
	}

	switch c.Bench.Strategy {
	case "columnar", "dataframe", "rows", "row", "lines":
	default:
		return &ValidationError{Field: "bench.strategy", Reason: "must be columnar or rows"}
	}
	switch c.Bench.OnEncodeError {
	case "skip", "abort":
	default:
		return &ValidationError{Field: "bench.on_encode_error", Reason: "must be skip or abort"}
	}
	if c.Bench.WarmupRows < 0 {
		return &ValidationError{Field: "bench.warmup_rows", Reason: "must not be negative"}
	}
	if c.Bench.DurationSeconds < 0 {
		return &ValidationError{Field: "bench.duration_seconds", Reason: "must not be negative"}
	}

	return nil
}

// StartTime parses the configured dataset start; Validate must have
// passed.
func (c *Config) StartTime() time.Time {
	if c.Dataset.Start == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, c.Dataset.Start)
	return t
}

// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for memsync.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/memsync/internal/cron"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir is the root directory for persistent module data.
	DataDir string `yaml:"data_dir,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "vector.chromem").
	Modules map[string]yaml.Node `yaml:"modules"`

	Memory     MemoryConfig     `yaml:"memory"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Reset      ResetConfig      `yaml:"reset"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Log        LogConfig        `yaml:"log"`
}

// MemoryConfig tunes the memory operations layer.
type MemoryConfig struct {
	// SingleStore disables the graph stage even when a graph module is loaded.
	SingleStore bool `yaml:"single_store"`

	// SearchCandidates is the number of existing memories fetched per
	// extracted fact during inference. Default: 5.
	SearchCandidates int `yaml:"search_candidates"`

	// GraphWorkers bounds concurrent async graph operations. Default: 8.
	GraphWorkers int `yaml:"graph_workers"`

	// EmbeddingCache is the number of embeddings kept in memory. Zero
	// disables the cache.
	EmbeddingCache int64 `yaml:"embedding_cache"`

	// AuditFile receives one JSON line per synchronized operation and reset.
	// Empty disables the audit log.
	AuditFile string `yaml:"audit_file,omitempty"`
}

// ResilienceConfig holds retry and breaker settings. Durations use
// time.ParseDuration syntax.
type ResilienceConfig struct {
	MaxRetries      *int     `yaml:"max_retries"`
	BaseDelay       string   `yaml:"base_delay"`
	MaxDelay        string   `yaml:"max_delay"`
	ExponentialBase float64  `yaml:"exponential_base"`
	Jitter          *bool    `yaml:"jitter"`
	RetryableKinds  []string `yaml:"retryable_kinds,omitempty"`
	AttemptTimeout  string   `yaml:"attempt_timeout"`

	FailureThreshold int    `yaml:"failure_threshold"`
	ResetTimeout     string `yaml:"reset_timeout"`
}

// GatewayConfig controls the operational HTTP endpoint.
type GatewayConfig struct {
	// Bind is the listen address. Default: 127.0.0.1:9464.
	Bind string `yaml:"bind"`

	// BearerToken protects the admin routes (status, reset). When empty the
	// admin routes are not mounted.
	BearerToken string `yaml:"bearer_token,omitempty"`
}

// ResetConfig lists scheduled reset jobs.
type ResetConfig struct {
	Jobs []ResetJob `yaml:"jobs,omitempty"`
}

// ResetJob is a reset run on a cron schedule.
type ResetJob struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"`

	// Scope is a reset scope name such as "VECTOR_ONLY". Default: "ALL".
	Scope string `yaml:"scope"`

	// Preserve selects memories kept by the reset (e.g. user_id: alice).
	Preserve map[string]string `yaml:"preserve,omitempty"`
}

// TelemetryConfig controls OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level"`
	// Format is text or json. Default: text.
	Format string `yaml:"format"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Memory.SearchCandidates <= 0 {
		c.Memory.SearchCandidates = 5
	}
	if c.Memory.GraphWorkers <= 0 {
		c.Memory.GraphWorkers = 8
	}
	if c.Gateway.Bind == "" {
		c.Gateway.Bind = "127.0.0.1:9464"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "memsync"
	}
	if c.Telemetry.SampleRatio <= 0 {
		c.Telemetry.SampleRatio = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	for i := range c.Reset.Jobs {
		if c.Reset.Jobs[i].Scope == "" {
			c.Reset.Jobs[i].Scope = "ALL"
		}
	}
}

// Durations returns the parsed resilience durations. Empty strings yield zero.
func (r ResilienceConfig) Durations() (base, maxDelay, attempt, reset time.Duration, err error) {
	var errs []error
	parse := func(field, s string) time.Duration {
		if s == "" {
			return 0
		}
		d, perr := time.ParseDuration(s)
		if perr != nil {
			errs = append(errs, fmt.Errorf("config: resilience.%s: %w", field, perr))
		}
		return d
	}
	base = parse("base_delay", r.BaseDelay)
	maxDelay = parse("max_delay", r.MaxDelay)
	attempt = parse("attempt_timeout", r.AttemptTimeout)
	reset = parse("reset_timeout", r.ResetTimeout)
	return base, maxDelay, attempt, reset, errors.Join(errs...)
}

func (r ResilienceConfig) validate() []error {
	var errs []error
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		errs = append(errs, errors.New("config: resilience.max_retries must be >= 0"))
	}
	if r.ExponentialBase != 0 && r.ExponentialBase < 1 {
		errs = append(errs, errors.New("config: resilience.exponential_base must be >= 1"))
	}
	if r.FailureThreshold < 0 {
		errs = append(errs, errors.New("config: resilience.failure_threshold must be >= 0"))
	}
	if _, _, _, _, err := r.Durations(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (r ResetConfig) validate() []error {
	var errs []error
	seen := make(map[string]bool, len(r.Jobs))
	for i, j := range r.Jobs {
		if j.Name == "" {
			errs = append(errs, fmt.Errorf("config: reset.jobs[%d]: name is required", i))
		} else if seen[j.Name] {
			errs = append(errs, fmt.Errorf("config: reset.jobs[%d]: duplicate name %q", i, j.Name))
		}
		seen[j.Name] = true
		if err := cron.ValidateSchedule(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("config: reset.jobs[%d]: invalid schedule %q: %w", i, j.Schedule, err))
		}
	}
	return errs
}

func (t TelemetryConfig) validate() []error {
	if !t.Enabled {
		return nil
	}
	var errs []error
	if t.Endpoint == "" {
		errs = append(errs, errors.New("config: telemetry.endpoint is required when telemetry is enabled"))
	}
	if t.SampleRatio > 1 {
		errs = append(errs, errors.New("config: telemetry.sample_ratio must be <= 1"))
	}
	return errs
}

func (l LogConfig) validate() []error {
	var errs []error
	switch l.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", l.Level))
	}
	switch l.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format %q is not text or json", l.Format))
	}
	return errs
}

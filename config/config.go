package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete TaskMesh configuration tree.
type Config struct {
	// Registry configures agent liveness tracking.
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`

	// Memory configures the memory store and its backend.
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Breaker configures the per-target circuit breakers.
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`

	// Delegator configures single-task dispatch.
	Delegator DelegatorConfig `yaml:"delegator" env:"DELEGATOR"`

	// Workflow configures the workflow engine.
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`

	// Orchestrator configures run tracking on the facade.
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Server configures the health/metrics HTTP endpoint.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log configures zap.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures the OpenTelemetry SDK.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// RegistryConfig holds agent registry settings.
type RegistryConfig struct {
	// HeartbeatInterval is the interval agents are expected to heartbeat at.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	// HeartbeatTimeout is how stale a heartbeat may be before the agent is
	// considered unreachable.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" env:"HEARTBEAT_TIMEOUT"`
	// SweepInterval is the liveness sweep period. Clamped to
	// HeartbeatTimeout/2 to avoid false negatives.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// RemoveAfter is how long an unreachable agent is kept before removal.
	RemoveAfter time.Duration `yaml:"remove_after" env:"REMOVE_AFTER"`
}

// MemoryConfig holds memory store settings.
type MemoryConfig struct {
	// Backend selects the store implementation: inmemory, redis, sqlite.
	Backend string `yaml:"backend" env:"BACKEND"`
	// MaxRecords caps the store size before LRU eviction. 0 means unlimited.
	MaxRecords int `yaml:"max_records" env:"MAX_RECORDS"`
	// TTL is the record time-to-live, enforced regardless of size pressure.
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// JanitorInterval is the eviction sweep period.
	JanitorInterval time.Duration `yaml:"janitor_interval" env:"JANITOR_INTERVAL"`
	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// SQLitePath is the sqlite backend database path.
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the number of failures inside Window that opens
	// the breaker.
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// Window is the rolling failure-counting window.
	Window time.Duration `yaml:"window" env:"WINDOW"`
	// RecoveryTimeout is the open → half-open cooldown.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	// HalfOpenMaxCalls is the number of trial calls allowed in half-open.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`
	// SuccessThreshold is the successes needed in half-open to close.
	SuccessThreshold int `yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`
}

// DelegatorConfig holds task delegation settings.
type DelegatorConfig struct {
	// DefaultTimeout bounds a dispatch when the task carries no timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// MemoryWriteTimeout bounds the fire-and-forget outcome writes.
	MemoryWriteTimeout time.Duration `yaml:"memory_write_timeout" env:"MEMORY_WRITE_TIMEOUT"`
	// EnrichmentLimit is the number of memory records merged into task context.
	EnrichmentLimit int `yaml:"enrichment_limit" env:"ENRICHMENT_LIMIT"`
	// RateLimit throttles dispatches per second. 0 disables throttling.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	// RateBurst is the rate limiter burst size.
	RateBurst int `yaml:"rate_burst" env:"RATE_BURST"`
}

// WorkflowConfig holds workflow engine settings.
type WorkflowConfig struct {
	// MaxConcurrency bounds simultaneously dispatched parallel nodes.
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
}

// OrchestratorConfig holds facade settings.
type OrchestratorConfig struct {
	// RunRetention is how long completed run records are kept for lookup.
	RunRetention time.Duration `yaml:"run_retention" env:"RUN_RETENTION"`
}

// ServerConfig holds the health/metrics HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig holds zap logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT"`
	// EnableCaller annotates log entries with caller info.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "TASKMESH",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a config validator run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the configuration.
// Precedence: defaults → YAML file → environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile merges the YAML file over cfg. A missing file is not an
// error; defaults apply.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv overrides cfg fields from environment variables following the
// env tags, e.g. TASKMESH_BREAKER_FAILURE_THRESHOLD.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration fields accept duration syntax ("90s", "1h").
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// Validate checks the settings that cannot be corrected by the
// per-component normalization.
func (c *Config) Validate() error {
	switch c.Memory.Backend {
	case "", "inmemory", "sqlite":
	case "redis":
		if c.Memory.Redis.Addr == "" {
			return fmt.Errorf("memory: redis backend requires an address")
		}
	default:
		return fmt.Errorf("memory: unknown backend %q", c.Memory.Backend)
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry: sample_rate %v outside [0, 1]", c.Telemetry.SampleRate)
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry: enabled without an otlp endpoint")
	}

	return nil
}

// MustLoad loads configuration from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

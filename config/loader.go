// Package config loads the scheduler configuration with the precedence
// defaults -> YAML file -> environment variables.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("parley.yaml").
//	    WithEnvPrefix("PARLEY").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/parley/orchestrator"
	"github.com/BaSui01/parley/persistence"
)

// Config is the complete daemon configuration.
type Config struct {
	// Server holds the operational HTTP surface (metrics, health).
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log configures the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OTel export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Channel selects and configures the message channel backend.
	Channel ChannelConfig `yaml:"channel" env:"CHANNEL"`

	// Store selects and configures the conversation store backend.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Redis is the shared connection used by Redis-backed channel/store.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Scheduler is the orchestrator tuning section. YAML only; it has no
	// per-field env overrides.
	Scheduler orchestrator.Config `yaml:"scheduler" env:"-"`
}

// ServerConfig is the operational HTTP surface.
type ServerConfig struct {
	// MetricsPort serves /metrics and /healthz. 0 disables the listener.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths, comma-separated in env form.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// Build constructs the zap logger described by the section.
func (c LogConfig) Build() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", c.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if c.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	if len(c.OutputPaths) > 0 {
		zcfg.OutputPaths = c.OutputPaths
	}
	return zcfg.Build()
}

// TelemetryConfig configures OTel export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// ChannelConfig selects the message channel backend.
type ChannelConfig struct {
	// Backend: memory or redis.
	Backend string `yaml:"backend" env:"BACKEND"`
	// MaxLen bounds per-channel retention.
	MaxLen int `yaml:"max_len" env:"MAX_LEN"`
	// PollInterval is the Redis tail polling interval.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

// StoreConfig selects the conversation store backend.
type StoreConfig struct {
	// Backend: memory, database, mongo, or redis.
	Backend string `yaml:"backend" env:"BACKEND"`

	Database persistence.GormConfig  `yaml:"database" env:"DATABASE"`
	Mongo    persistence.MongoConfig `yaml:"mongo" env:"MONGO"`
}

// RedisConfig is the shared Redis connection.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// Loader loads configuration with the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the PARLEY env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "PARLEY"}
}

// WithConfigPath sets the YAML file path. A missing file is not an error;
// defaults and env apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then YAML, then env.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
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
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

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

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []string

	switch c.Channel.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown channel backend %q", c.Channel.Backend))
	}
	switch c.Store.Backend {
	case "memory", "database", "mongo", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}
	if (c.Channel.Backend == "redis" || c.Store.Backend == "redis") && c.Redis.Addr == "" {
		errs = append(errs, "redis backend selected but redis.addr is empty")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MustLoad loads configuration or panics. Intended for main().
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}

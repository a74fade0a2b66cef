// Package config loads bulkq configuration from an optional YAML file and
// BULKQ_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/seantiz/bulkq/internal/model"
	"github.com/seantiz/bulkq/internal/retry"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "bulkq.db"
	defaultPollInterval = 30 * time.Second

	envPrefix = "BULKQ"

	// Store drivers.
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// Event sinks.
	SinkHandler = "handler"
	SinkRedis   = "redis"
)

// Config holds application configuration.
type Config struct {
	ListenAddr   string        `mapstructure:"listen_addr"`
	LogLevel     string        `mapstructure:"log_level"`
	InstanceID   string        `mapstructure:"instance_id"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Scopes lists the engines to run, each as "kind:region:account".
	Scopes []string `mapstructure:"scopes"`

	Store   StoreConfig   `mapstructure:"store"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Events  EventsConfig  `mapstructure:"events"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// StoreConfig selects the entry store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// EngineConfig holds engine options shared by every scope.
type EngineConfig struct {
	LockTTL                   time.Duration `mapstructure:"lock_ttl"`
	ExpirationWindow          time.Duration `mapstructure:"expiration_window"`
	RestrictCallbacksToOrigin bool          `mapstructure:"restrict_callbacks_to_origin"`
}

// RetryConfig holds one policy per stage.
type RetryConfig struct {
	Submission PolicyConfig `mapstructure:"submission"`
	Processing PolicyConfig `mapstructure:"processing"`
	Download   PolicyConfig `mapstructure:"download"`
	Callback   PolicyConfig `mapstructure:"callback"`
}

// PolicyConfig is the configured form of retry.Policy.
type PolicyConfig struct {
	MaxRetryCount int           `mapstructure:"max_retry_count"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	Interval      time.Duration `mapstructure:"interval"`
	Progression   string        `mapstructure:"progression"`
}

// RemoteConfig configures the remote service client.
type RemoteConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// EventsConfig selects where event callbacks go.
type EventsConfig struct {
	Sink        string `mapstructure:"sink"` // handler | redis
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisStream string `mapstructure:"redis_stream"`
	RedisMaxLen int64  `mapstructure:"redis_max_len"`
}

// TracingConfig configures OTLP export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("log_level", "info")
	v.SetDefault("instance_id", "")
	v.SetDefault("poll_interval", defaultPollInterval)
	v.SetDefault("scopes", []string{})

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", defaultDBPath)
	v.SetDefault("store.dsn", "")

	v.SetDefault("engine.lock_ttl", 5*time.Minute)
	v.SetDefault("engine.expiration_window", 72*time.Hour)
	v.SetDefault("engine.restrict_callbacks_to_origin", false)

	for _, stage := range []string{"submission", "processing", "download", "callback"} {
		p := retry.DefaultPolicy
		v.SetDefault("retry."+stage+".max_retry_count", p.MaxRetryCount)
		v.SetDefault("retry."+stage+".initial_delay", p.InitialDelay)
		v.SetDefault("retry."+stage+".interval", p.Interval)
		v.SetDefault("retry."+stage+".progression", string(p.Progression))
	}

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.requests_per_second", 0)
	v.SetDefault("remote.burst", 1)

	v.SetDefault("events.sink", SinkHandler)
	v.SetDefault("events.redis_addr", "localhost:6379")
	v.SetDefault("events.redis_stream", "bulkq:results")
	v.SetDefault("events.redis_max_len", 10000)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.service_name", "bulkq")
}

// Load reads configuration from path, if not empty, then applies BULKQ_*
// environment overrides (BULKQ_STORE_DRIVER for store.driver) on top of the
// defaults. A missing instance id is replaced with a random one.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be decoded into a working host.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.ParsedScopes(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	switch c.Events.Sink {
	case SinkHandler, SinkRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown event sink %q", c.Events.Sink))
	}
	for name, p := range c.Retry.byStage() {
		if _, err := p.Policy(); err != nil {
			errs = append(errs, fmt.Errorf("retry.%s: %w", name, err))
		}
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	return errors.Join(errs...)
}

// ParsedScopes returns the configured scopes.
func (c *Config) ParsedScopes() ([]model.Scope, error) {
	scopes := make([]model.Scope, 0, len(c.Scopes))
	for _, s := range c.Scopes {
		scope, err := ParseScope(s)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}

// ParseScope parses "kind:region:account".
func ParseScope(s string) (model.Scope, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return model.Scope{}, fmt.Errorf("invalid scope %q: want kind:region:account", s)
	}
	kind := model.Kind(strings.ToLower(parts[0]))
	if !kind.Valid() {
		return model.Scope{}, fmt.Errorf("invalid scope %q: unknown kind %q", s, parts[0])
	}
	return model.Scope{Kind: kind, Region: parts[1], AccountID: parts[2]}, nil
}

func (r RetryConfig) byStage() map[string]PolicyConfig {
	return map[string]PolicyConfig{
		"submission": r.Submission,
		"processing": r.Processing,
		"download":   r.Download,
		"callback":   r.Callback,
	}
}

// Policy converts p to a retry.Policy.
func (p PolicyConfig) Policy() (retry.Policy, error) {
	prog, err := retry.ParseProgression(p.Progression)
	if err != nil {
		return retry.Policy{}, err
	}
	if p.MaxRetryCount < 0 {
		return retry.Policy{}, fmt.Errorf("max_retry_count must not be negative, got %d", p.MaxRetryCount)
	}
	return retry.Policy{
		MaxRetryCount: p.MaxRetryCount,
		InitialDelay:  p.InitialDelay,
		Interval:      p.Interval,
		Progression:   prog,
	}, nil
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

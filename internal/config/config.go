package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access, swapped
// atomically by Load and by the hot-reload watcher.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last
// successful Load, so the watcher knows what to re-read.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use. If no
// config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

func set(cfg *Config) {
	configPtr.Store(cfg)
}

// ServerConfig holds HTTP listener tunables.
type ServerConfig struct {
	BindAddress     string        `mapstructure:"bind_address" toml:"bind_address"`
	Port            int           `mapstructure:"port" toml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" toml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" toml:"idle_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" toml:"max_body_bytes"`
	MaxInputLength  int           `mapstructure:"max_input_length" toml:"max_input_length"`
	DataDir         string        `mapstructure:"data_dir" toml:"data_dir"`
	Debug           bool          `mapstructure:"debug" toml:"debug"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" toml:"shutdown_timeout"`
}

// AuthConfig holds the JWT verification surface's configuration (C4).
type AuthConfig struct {
	Issuer           string        `mapstructure:"issuer" toml:"issuer"`
	Audience         string        `mapstructure:"audience" toml:"audience"`
	ExpectedClientID string        `mapstructure:"expected_client_id" toml:"expected_client_id"`
	JWKSURL          string        `mapstructure:"jwks_url" toml:"jwks_url"`
	JWKSRefresh      time.Duration `mapstructure:"jwks_refresh" toml:"jwks_refresh"`
	Leeway           time.Duration `mapstructure:"leeway" toml:"leeway"`
	Algorithms       []string      `mapstructure:"algorithms" toml:"algorithms"`
	// HMACTestSecret, when set together with Testing.Enabled, allows
	// HS256-signed tokens for local/dev use instead of a live JWKS endpoint.
	HMACTestSecret string `mapstructure:"hmac_test_secret" toml:"hmac_test_secret"`
}

// ProviderConfig describes one outbound LLM provider (C6).
type ProviderConfig struct {
	Name           string        `mapstructure:"name" toml:"name"`
	BaseURL        string        `mapstructure:"base_url" toml:"base_url"`
	KeyRef         string        `mapstructure:"key_ref" toml:"key_ref"`
	Priority       int           `mapstructure:"priority" toml:"priority"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" toml:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" toml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" toml:"write_timeout"`
	PoolTimeout    time.Duration `mapstructure:"pool_timeout" toml:"pool_timeout"`
	MaxRetries     int           `mapstructure:"max_retries" toml:"max_retries"`
	ServiceTypes   []string      `mapstructure:"service_types" toml:"service_types"`
	Capabilities   []string      `mapstructure:"capabilities" toml:"capabilities"`
	Enabled        bool          `mapstructure:"enabled" toml:"enabled"`
}

// CORSConfig holds the allow-list used by the (externally mounted) CORS
// middleware; the gateway core validates it at startup per spec.md §4.1.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
}

// BucketConfig describes one token-bucket family's tunables.
type BucketConfig struct {
	PerMinute float64 `mapstructure:"per_minute" toml:"per_minute"`
	Burst     float64 `mapstructure:"burst" toml:"burst"`
}

// RateLimitConfig holds the two independent bucket families (C3).
type RateLimitConfig struct {
	User BucketConfig `mapstructure:"user" toml:"user"`
	IP   BucketConfig `mapstructure:"ip" toml:"ip"`
}

// JobsConfig holds the async job manager's tunables (C8).
type JobsConfig struct {
	WorkerPoolSize int           `mapstructure:"worker_pool_size" toml:"worker_pool_size"`
	QueueCapacity  int           `mapstructure:"queue_capacity" toml:"queue_capacity"`
	Retention      time.Duration `mapstructure:"retention" toml:"retention"`
	Liveness       time.Duration `mapstructure:"liveness" toml:"liveness"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" toml:"sweep_interval"`
	PollInterval   time.Duration `mapstructure:"poll_interval" toml:"poll_interval"`
}

// DatabaseConfig holds the persistence port's connection URL (C10).
type DatabaseConfig struct {
	URL string `mapstructure:"url" toml:"url"`
}

// TestingConfig relaxes the auth issuer/audience/JWKS requirements and the
// provider key_ref and key-length checks for local/dev runs. Origin checks
// are governed by Server.Debug, not by this flag.
type TestingConfig struct {
	Enabled bool `mapstructure:"enabled" toml:"enabled"`
}

// TracingConfig controls OpenTelemetry span export for the HTTP and
// provider-invocation layers.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" toml:"enabled"`
	Exporter   string  `mapstructure:"exporter" toml:"exporter"`
	Endpoint   string  `mapstructure:"endpoint" toml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" toml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" toml:"sample_rate"`
}

// Config is the root configuration object, loaded once at startup and
// swapped atomically thereafter.
type Config struct {
	Server    ServerConfig              `mapstructure:"server" toml:"server"`
	Auth      AuthConfig                `mapstructure:"auth" toml:"auth"`
	Providers map[string]ProviderConfig `mapstructure:"providers" toml:"providers"`
	CORS      CORSConfig                `mapstructure:"cors" toml:"cors"`
	RateLimit RateLimitConfig           `mapstructure:"rate_limit" toml:"rate_limit"`
	Jobs      JobsConfig                `mapstructure:"jobs" toml:"jobs"`
	Database  DatabaseConfig            `mapstructure:"database" toml:"database"`
	Testing   TestingConfig             `mapstructure:"testing" toml:"testing"`
	Tracing   TracingConfig             `mapstructure:"tracing" toml:"tracing"`
	LogLevel  string                    `mapstructure:"log_level" toml:"log_level"`
}

// Load reads configuration from an optional TOML file at explicitPath (or
// the default location if empty and present), overlays GATEWAY_-prefixed
// environment variables, validates the result, and atomically installs it
// as the current config. It returns the loaded config or a validation error
// that concatenates every violation found.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	setViperDefaults(v)

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := explicitPath
	if configFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".gateway", DefaultConfigFilename)
			if _, err := os.Stat(candidate); err == nil {
				configFile = candidate
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
			}
		} else {
			loadedConfigFile.Store(configFile)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	if cfg.Server.Debug && len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost"}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// ConfigFilePath returns the path of the config file used by the last
// successful Load, or "" if none was loaded from a file.
func ConfigFilePath() string {
	if v := loadedConfigFile.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// ExportConfig serializes cfg as TOML, for operational snapshotting.
func ExportConfig(cfg *Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.max_input_length", d.Server.MaxInputLength)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.debug", d.Server.Debug)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("auth.jwks_refresh", d.Auth.JWKSRefresh)
	v.SetDefault("auth.leeway", d.Auth.Leeway)
	v.SetDefault("auth.algorithms", d.Auth.Algorithms)

	v.SetDefault("providers", d.Providers)

	v.SetDefault("rate_limit.user.per_minute", d.RateLimit.User.PerMinute)
	v.SetDefault("rate_limit.user.burst", d.RateLimit.User.Burst)
	v.SetDefault("rate_limit.ip.per_minute", d.RateLimit.IP.PerMinute)
	v.SetDefault("rate_limit.ip.burst", d.RateLimit.IP.Burst)

	v.SetDefault("jobs.worker_pool_size", d.Jobs.WorkerPoolSize)
	v.SetDefault("jobs.queue_capacity", d.Jobs.QueueCapacity)
	v.SetDefault("jobs.retention", d.Jobs.Retention)
	v.SetDefault("jobs.liveness", d.Jobs.Liveness)
	v.SetDefault("jobs.sweep_interval", d.Jobs.SweepInterval)
	v.SetDefault("jobs.poll_interval", d.Jobs.PollInterval)

	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("testing.enabled", d.Testing.Enabled)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)

	v.SetDefault("log_level", d.LogLevel)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

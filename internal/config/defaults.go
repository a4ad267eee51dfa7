package config

import "time"

// Server
const (
	DefaultBindAddress     = "0.0.0.0"
	DefaultPort            = 8080
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultMaxBodyBytes    = 1 << 20 // 1 MiB
	DefaultMaxInputLength  = 8192
	DefaultConfigFilename  = "gateway.toml"
	DefaultDataDir         = "~/.gateway"
	DefaultShutdownTimeout = 30 * time.Second
)

// Auth / JWT
const (
	DefaultJWKSRefresh = 15 * time.Minute
	DefaultAuthLeeway  = 30 * time.Second
)

// Providers
const (
	DefaultConnectTimeout  = 5 * time.Second
	DefaultReadTimeoutProv = 60 * time.Second
	DefaultWriteTimeoutP   = 10 * time.Second
	DefaultPoolTimeout     = 5 * time.Second
	DefaultPoolSize        = 100
	DefaultMaxIdleConnHost = 10
	DefaultMaxRetries      = 1
	DefaultBackoffBase     = 250 * time.Millisecond
)

// Rate limit
const (
	DefaultUserPerMinute = 60
	DefaultUserBurst     = 120
	DefaultIPPerMinute   = 120
	DefaultIPBurst       = 240
)

// Jobs
const (
	DefaultWorkerPoolSize  = 4
	DefaultQueueCapacity   = 256
	DefaultJobRetention    = time.Hour
	DefaultJobLiveness     = 5 * time.Minute
	DefaultSweepInterval   = time.Minute
	DefaultJobPollInterval = 200 * time.Millisecond
)

// Tracing
const (
	DefaultTracingExporter   = "stdout"
	DefaultTracingSampleRate = 1.0
)

// ValidLogLevels lists the accepted zerolog level names.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// ValidTracingExporters lists the supported OpenTelemetry exporter names.
var ValidTracingExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// ValidAnalysisTypes lists the bounded analysis_type tag set (spec.md §6).
var ValidAnalysisTypes = []string{"document", "chat", "seo", "crypto", "custom"}

// ValidJWTAlgorithms is the allow-listed asymmetric signing algorithm set.
var ValidJWTAlgorithms = []string{"RS256", "RS384", "RS512"}

// DefaultConfig returns a fully populated Config with every default applied,
// mirroring the teacher's pattern of a single factory consumed by both Load
// (pre-overlay) and tests.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:     DefaultBindAddress,
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			MaxBodyBytes:    DefaultMaxBodyBytes,
			MaxInputLength:  DefaultMaxInputLength,
			DataDir:         DefaultDataDir,
			Debug:           false,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Auth: AuthConfig{
			Issuer:           "",
			Audience:         "",
			ExpectedClientID: "",
			JWKSURL:          "",
			JWKSRefresh:      DefaultJWKSRefresh,
			Leeway:           DefaultAuthLeeway,
			Algorithms:       append([]string(nil), ValidJWTAlgorithms...),
			HMACTestSecret:   "",
		},
		Providers: map[string]ProviderConfig{
			"provider-a": {
				Name:           "provider-a",
				BaseURL:        "https://api.provider-a.example.com",
				KeyRef:         "env:GATEWAY_KEY_PROVIDER_A",
				Priority:       1,
				ConnectTimeout: DefaultConnectTimeout,
				ReadTimeout:    DefaultReadTimeoutProv,
				WriteTimeout:   DefaultWriteTimeoutP,
				PoolTimeout:    DefaultPoolTimeout,
				MaxRetries:     DefaultMaxRetries,
				ServiceTypes:   []string{"prompt_optimizer", "analyzer"},
				Capabilities:   []string{"document", "chat", "seo", "crypto", "custom"},
			},
			"provider-b": {
				Name:           "provider-b",
				BaseURL:        "https://api.provider-b.example.com",
				KeyRef:         "env:GATEWAY_KEY_PROVIDER_B",
				Priority:       2,
				ConnectTimeout: DefaultConnectTimeout,
				ReadTimeout:    DefaultReadTimeoutProv,
				WriteTimeout:   DefaultWriteTimeoutP,
				PoolTimeout:    DefaultPoolTimeout,
				MaxRetries:     DefaultMaxRetries,
				ServiceTypes:   []string{"prompt_optimizer", "analyzer"},
				Capabilities:   []string{"document", "chat", "seo", "crypto", "custom"},
			},
		},
		CORS: CORSConfig{
			AllowedOrigins: nil,
		},
		RateLimit: RateLimitConfig{
			User: BucketConfig{PerMinute: DefaultUserPerMinute, Burst: DefaultUserBurst},
			IP:   BucketConfig{PerMinute: DefaultIPPerMinute, Burst: DefaultIPBurst},
		},
		Jobs: JobsConfig{
			WorkerPoolSize: DefaultWorkerPoolSize,
			QueueCapacity:  DefaultQueueCapacity,
			Retention:      DefaultJobRetention,
			Liveness:       DefaultJobLiveness,
			SweepInterval:  DefaultSweepInterval,
			PollInterval:   DefaultJobPollInterval,
		},
		Database: DatabaseConfig{
			URL: "sqlite://" + DefaultDataDir + "/gateway.db",
		},
		Testing: TestingConfig{
			Enabled: false,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   DefaultTracingExporter,
			Endpoint:   "",
			Insecure:   false,
			SampleRate: DefaultTracingSampleRate,
		},
		LogLevel: "info",
	}
}

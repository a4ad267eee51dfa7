package config

import (
	"fmt"
	"strings"
	"time"
)

// validate checks the Config for invalid or out-of-range values, per
// spec.md §4.1. It returns a single error concatenating every violation
// found, or nil if the config is acceptable. The validator runs once at
// startup and, on any violation, aborts process initialization.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		errs = append(errs, "server.max_body_bytes must be positive")
	}
	if cfg.Server.MaxInputLength <= 0 {
		errs = append(errs, "server.max_input_length must be positive")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}
	if !isValidEnum(cfg.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("log_level must be one of %v, got %q", ValidLogLevels, cfg.LogLevel))
	}

	if !cfg.Testing.Enabled {
		if cfg.Auth.Issuer == "" {
			errs = append(errs, "auth.issuer is required unless testing.enabled is set")
		} else if !strings.HasSuffix(cfg.Auth.Issuer, "/") {
			errs = append(errs, "auth.issuer must end with a trailing slash")
		}
		if cfg.Auth.Audience == "" {
			errs = append(errs, "auth.audience is required unless testing.enabled is set")
		}
		if cfg.Auth.JWKSURL == "" {
			errs = append(errs, "auth.jwks_url is required unless testing.enabled is set")
		}
	}
	for _, alg := range cfg.Auth.Algorithms {
		if !isValidEnum(alg, ValidJWTAlgorithms) {
			errs = append(errs, fmt.Sprintf("auth.algorithms contains unsupported algorithm %q, allowed: %v", alg, ValidJWTAlgorithms))
			break
		}
	}

	if len(cfg.Providers) == 0 {
		errs = append(errs, "at least one entry in providers is required")
	}
	for name, p := range cfg.Providers {
		if !p.Enabled && !cfg.Testing.Enabled {
			continue
		}
		if p.BaseURL == "" || (!strings.HasPrefix(p.BaseURL, "http://") && !strings.HasPrefix(p.BaseURL, "https://")) {
			errs = append(errs, fmt.Sprintf("providers.%s.base_url must be an http(s) URL, got %q", name, p.BaseURL))
		}
		if p.KeyRef == "" && !cfg.Testing.Enabled {
			errs = append(errs, fmt.Sprintf("providers.%s.key_ref is required unless testing.enabled is set", name))
		}
		if p.ConnectTimeout <= 0 || p.WriteTimeout <= 0 || p.PoolTimeout <= 0 {
			errs = append(errs, fmt.Sprintf("providers.%s timeouts must be positive", name))
		}
		if p.ReadTimeout <= 0 || p.ReadTimeout > 600*time.Second {
			errs = append(errs, fmt.Sprintf("providers.%s.read_timeout must be in (0, 600s], got %s", name, p.ReadTimeout))
		}
	}

	if !cfg.Server.Debug {
		if len(cfg.CORS.AllowedOrigins) == 0 {
			errs = append(errs, "cors.allowed_origins must be non-empty in production mode")
		}
		for _, origin := range cfg.CORS.AllowedOrigins {
			if origin == "*" {
				errs = append(errs, "cors.allowed_origins: wildcard origin is forbidden in production mode")
				break
			}
		}
	}

	if cfg.RateLimit.User.Burst < cfg.RateLimit.User.PerMinute {
		errs = append(errs, "rate_limit.user.burst must be >= rate_limit.user.per_minute")
	}
	if cfg.RateLimit.IP.Burst < cfg.RateLimit.IP.PerMinute {
		errs = append(errs, "rate_limit.ip.burst must be >= rate_limit.ip.per_minute")
	}
	if cfg.RateLimit.User.PerMinute <= 0 || cfg.RateLimit.IP.PerMinute <= 0 {
		errs = append(errs, "rate_limit per_minute values must be positive")
	}

	if cfg.Jobs.WorkerPoolSize < 1 || cfg.Jobs.WorkerPoolSize > 10000 {
		errs = append(errs, fmt.Sprintf("jobs.worker_pool_size must be between 1 and 10000, got %d", cfg.Jobs.WorkerPoolSize))
	}
	if cfg.Jobs.QueueCapacity < 1 {
		errs = append(errs, "jobs.queue_capacity must be positive")
	}
	if cfg.Jobs.Retention <= 0 {
		errs = append(errs, "jobs.retention must be positive")
	}

	if cfg.Tracing.Enabled {
		if !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			errs = append(errs, fmt.Sprintf("tracing.sample_rate must be in [0, 1], got %v", cfg.Tracing.SampleRate))
		}
	}

	if cfg.Database.URL == "" {
		errs = append(errs, "database.url is required")
	} else {
		scheme := strings.SplitN(cfg.Database.URL, "://", 2)[0]
		if !isValidEnum(scheme, []string{"sqlite", "postgresql", "mysql"}) {
			errs = append(errs, fmt.Sprintf("database.url scheme must be one of sqlite, postgresql, mysql, got %q", scheme))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
}

func isValidEnum(val string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(val, a) {
			return true
		}
	}
	return false
}

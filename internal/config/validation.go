package config

import (
	"fmt"
	"net/url"

	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
)

const maxPort = 65535

// ValidateConfig validates the entire configuration.
func ValidateConfig(config *Config) error {
	if config == nil {
		return customerrors.NewValidationError("config cannot be nil").
			WithComponent("config")
	}

	if config.Version != 1 {
		return customerrors.NewValidationError(fmt.Sprintf("unsupported config version: %d", config.Version)).
			WithComponent("config").
			WithContext("version", config.Version)
	}

	validators := []struct {
		section string
		fn      func(*Config) error
	}{
		{"server", validateServer},
		{"auth", validateAuth},
		{"sessions", validateSessions},
		{"pool", validatePool},
		{"recovery", validateRecovery},
		{"cache", validateCache},
		{"analytics", validateAnalytics},
		{"shutdown", validateShutdown},
		{"tracing", validateTracing},
	}

	for _, v := range validators {
		if err := v.fn(config); err != nil {
			return customerrors.Wrap(err, "invalid "+v.section+" configuration").
				WithComponent("config")
		}
	}

	return nil
}

func validateServer(c *Config) error {
	if c.Server.Port <= 0 || c.Server.Port > maxPort {
		return invalidField("server.port", c.Server.Port)
	}

	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > maxPort {
		return invalidField("server.metrics_port", c.Server.MetricsPort)
	}

	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.Port {
		return customerrors.NewValidationError("server.metrics_port must differ from server.port")
	}

	if c.Server.KeepAliveInterval <= 0 {
		return invalidField("server.keepalive_interval", c.Server.KeepAliveInterval)
	}

	return nil
}

func validateAuth(c *Config) error {
	jwt := c.Auth.JWT

	if jwt.JWKSURL != "" {
		if _, err := url.ParseRequestURI(jwt.JWKSURL); err != nil {
			return customerrors.NewValidationError("auth.jwt.jwks_url is not a valid URL").
				WithContext("jwks_url", jwt.JWKSURL)
		}
	}

	if jwt.OrgClaim == "" {
		return invalidField("auth.jwt.org_claim", jwt.OrgClaim)
	}

	if c.Auth.APIKey.Header == "" {
		return invalidField("auth.api_key.header", c.Auth.APIKey.Header)
	}

	return nil
}

func validateSessions(c *Config) error {
	s := c.Sessions

	switch {
	case s.MaxSessions <= 0:
		return invalidField("sessions.max_sessions", s.MaxSessions)
	case s.Timeout <= 0:
		return invalidField("sessions.timeout", s.Timeout)
	case s.MaxErrorCount <= 0:
		return invalidField("sessions.max_error_count", s.MaxErrorCount)
	case s.CleanupInterval <= 0:
		return invalidField("sessions.cleanup_interval", s.CleanupInterval)
	}

	return nil
}

func validatePool(c *Config) error {
	p := c.Pool

	switch {
	case p.MaxConnectionsPerServer <= 0:
		return invalidField("pool.max_connections_per_server", p.MaxConnectionsPerServer)
	case p.IdleTimeout <= 0:
		return invalidField("pool.idle_timeout", p.IdleTimeout)
	case p.CleanupInterval <= 0:
		return invalidField("pool.cleanup_interval", p.CleanupInterval)
	case p.ConnectTimeout <= 0:
		return invalidField("pool.connect_timeout", p.ConnectTimeout)
	}

	return nil
}

func validateRecovery(c *Config) error {
	r := c.Recovery

	switch {
	case r.MaxRetryAttempts <= 0:
		return invalidField("recovery.max_retry_attempts", r.MaxRetryAttempts)
	case r.BaseDelay <= 0:
		return invalidField("recovery.base_delay", r.BaseDelay)
	case r.MaxDelay < r.BaseDelay:
		return customerrors.NewValidationError("recovery.max_delay must be >= recovery.base_delay")
	case r.MonitorInterval <= 0:
		return invalidField("recovery.monitor_interval", r.MonitorInterval)
	}

	return nil
}

func validateCache(c *Config) error {
	switch c.Cache.Provider {
	case CacheProviderMemory:
	case CacheProviderRedis:
		if c.Cache.Redis.URL == "" {
			return invalidField("cache.redis.url", c.Cache.Redis.URL)
		}
	default:
		return customerrors.NewValidationError("unsupported cache provider: "+c.Cache.Provider).
			WithContext("provider", c.Cache.Provider)
	}

	if c.Cache.NegativeTTL < 0 {
		return invalidField("cache.negative_ttl", c.Cache.NegativeTTL)
	}

	return nil
}

func validateAnalytics(c *Config) error {
	a := c.Analytics
	if !a.Enabled {
		return nil
	}

	switch {
	case a.Stream == "":
		return invalidField("analytics.stream", a.Stream)
	case a.QueueSize <= 0:
		return invalidField("analytics.queue_size", a.QueueSize)
	case a.Workers <= 0:
		return invalidField("analytics.workers", a.Workers)
	case c.Cache.Redis.URL == "":
		return customerrors.NewValidationError("analytics requires cache.redis.url")
	}

	return nil
}

func validateShutdown(c *Config) error {
	if c.Shutdown.GracePeriod <= 0 {
		return invalidField("shutdown.grace_period", c.Shutdown.GracePeriod)
	}

	return nil
}

func validateTracing(c *Config) error {
	if !c.Tracing.Enabled {
		return nil
	}

	switch c.Tracing.Exporter {
	case "", "stdout", "none":
	case "otlp":
		if c.Tracing.OTLPEndpoint == "" {
			return customerrors.NewValidationError("tracing.otlp_endpoint is required for the otlp exporter")
		}
	default:
		return customerrors.NewValidationError("unsupported tracing exporter: " + c.Tracing.Exporter)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return invalidField("tracing.sample_rate", c.Tracing.SampleRate)
	}

	return nil
}

func invalidField(field string, value interface{}) error {
	return customerrors.NewValidationError(fmt.Sprintf("invalid value for %s: %v", field, value)).
		WithContext("field", field)
}

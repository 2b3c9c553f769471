// Package config defines configuration structures for the MCP gateway.
package config

import (
	"time"
)

// Config represents the complete configuration for the MCP gateway.
type Config struct {
	Version   int             `mapstructure:"version"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Sessions  SessionConfig   `mapstructure:"sessions"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Store     StoreConfig     `mapstructure:"store"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig represents the HTTP server configuration.
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	MetricsPort       int           `mapstructure:"metrics_port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
}

// AuthConfig represents authentication configuration.
type AuthConfig struct {
	JWT    JWTConfig    `mapstructure:"jwt"`
	APIKey APIKeyConfig `mapstructure:"api_key"`
}

// JWTConfig represents the JWT configuration. HMAC tokens verify against
// the secret named by SecretKeyEnv; RSA and ECDSA tokens verify against
// JWKSURL when set, else the PEM public key at PublicKeyPath.
type JWTConfig struct {
	Issuer        string        `mapstructure:"issuer"`
	Audience      string        `mapstructure:"audience"`
	JWKSURL       string        `mapstructure:"jwks_url"`
	SecretKeyEnv  string        `mapstructure:"secret_key_env"`
	PublicKeyPath string        `mapstructure:"public_key_path"`
	OrgClaim      string        `mapstructure:"org_claim"`
	Leeway        time.Duration `mapstructure:"leeway"`

	// SecretKey is resolved from SecretKeyEnv at load time.
	SecretKey string `mapstructure:"-"`
}

// APIKeyConfig describes where API keys are read from.
type APIKeyConfig struct {
	Header         string   `mapstructure:"header"`
	QueryParam     string   `mapstructure:"query_param"`
	BearerPrefixes []string `mapstructure:"bearer_prefixes"`
}

// SessionConfig represents session management configuration.
type SessionConfig struct {
	MaxSessions     int           `mapstructure:"max_sessions"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxErrorCount   int           `mapstructure:"max_error_count"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// PoolConfig bounds the upstream connection pool.
type PoolConfig struct {
	MaxConnectionsPerServer int           `mapstructure:"max_connections_per_server"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	CleanupInterval         time.Duration `mapstructure:"cleanup_interval"`
	ConnectTimeout          time.Duration `mapstructure:"connect_timeout"`
	HealthCheckTimeout      time.Duration `mapstructure:"health_check_timeout"`
}

// RecoveryConfig controls reconnection back-off.
type RecoveryConfig struct {
	MaxRetryAttempts int           `mapstructure:"max_retry_attempts"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	MonitorInterval  time.Duration `mapstructure:"monitor_interval"`
}

// ExecutorConfig controls tool execution.
type ExecutorConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// CacheConfig selects the metadata cache backend and TTLs.
type CacheConfig struct {
	Provider      string        `mapstructure:"provider"` // "memory" or "redis"
	Redis         RedisConfig   `mapstructure:"redis"`
	ServerTTL     time.Duration `mapstructure:"server_ttl"`
	MembershipTTL time.Duration `mapstructure:"membership_ttl"`
	InstanceTTL   time.Duration `mapstructure:"instance_ttl"`
	APIKeyTTL     time.Duration `mapstructure:"api_key_ttl"`
	NegativeTTL   time.Duration `mapstructure:"negative_ttl"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// RedisConfig describes a Redis connection.
type RedisConfig struct {
	URL         string `mapstructure:"url"`
	PasswordEnv string `mapstructure:"password_env"`
	DB          int    `mapstructure:"db"`
	PoolSize    int    `mapstructure:"pool_size"`

	// Password is resolved from PasswordEnv at load time.
	Password string `mapstructure:"-"`
}

// StoreConfig describes the relational metadata store.
type StoreConfig struct {
	DSNEnv   string `mapstructure:"dsn_env"`
	MaxConns int32  `mapstructure:"max_conns"`

	// DSN is resolved from DSNEnv at load time.
	DSN string `mapstructure:"-"`
}

// AnalyticsConfig controls the asynchronous request log fan-out.
type AnalyticsConfig struct {
	Enabled        bool                 `mapstructure:"enabled"`
	Stream         string               `mapstructure:"stream"`
	MaxLen         int64                `mapstructure:"max_len"`
	QueueSize      int                  `mapstructure:"queue_size"`
	Workers        int                  `mapstructure:"workers"`
	PublishTimeout time.Duration        `mapstructure:"publish_timeout"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// CircuitBreakerConfig represents circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// FeaturesConfig toggles optional capabilities.
type FeaturesConfig struct {
	Privacy PrivacyConfig `mapstructure:"privacy"`
}

// PrivacyConfig enables result masking and compact output.
type PrivacyConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig represents distributed tracing configuration.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	Exporter     string  `mapstructure:"exporter"` // "otlp", "stdout" or "none"
	SampleRate   float64 `mapstructure:"sample_rate"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"` // host:port of the collector's gRPC receiver
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
}

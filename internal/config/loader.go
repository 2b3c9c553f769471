package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultHTTPPort          = 8080
	defaultMetricsPort       = 9090
	defaultMaxSessions       = 1000
	defaultMaxErrorCount     = 5
	defaultMaxConnsPerServer = 5
	defaultMaxRetryAttempts  = 3
	defaultStoreMaxConns     = 10
	defaultStreamMaxLen      = 100000
	defaultQueueSize         = 1024
	defaultWorkers           = 2
	defaultFailureThreshold  = 5
	defaultSuccessThreshold  = 2
	defaultMaxBodyBytes      = 4 << 20

	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 0
	defaultIdleTimeout       = 120 * time.Second
	defaultKeepAlive         = 30 * time.Second
	defaultSessionTimeout    = 30 * time.Minute
	defaultCleanupInterval   = time.Minute
	defaultPoolIdleTimeout   = 5 * time.Minute
	defaultConnectTimeout    = 30 * time.Second
	defaultHealthTimeout     = 5 * time.Second
	defaultBaseDelay         = time.Second
	defaultMaxDelay          = 30 * time.Second
	defaultMonitorInterval   = 30 * time.Second
	defaultServerTTL         = 5 * time.Minute
	defaultMembershipTTL     = 5 * time.Minute
	defaultInstanceTTL       = 5 * time.Minute
	defaultAPIKeyTTL         = time.Minute
	defaultNegativeTTL       = 30 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultBreakerTimeout    = 30 * time.Second
	defaultGracePeriod       = 10 * time.Second
	defaultJWTLeeway         = 30 * time.Second
	defaultTracingSampleRate = 1.0

	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "MCP_GATEWAY"

	// CacheProviderMemory keeps cache entries in process.
	CacheProviderMemory = "memory"
	// CacheProviderRedis keeps cache entries in Redis.
	CacheProviderRedis = "redis"
)

// Load reads configuration from configPath (optional), applies environment
// overrides, resolves secrets from the environment and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	loadSecrets(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func loadSecrets(cfg *Config) {
	if cfg.Auth.JWT.SecretKeyEnv != "" {
		cfg.Auth.JWT.SecretKey = os.Getenv(cfg.Auth.JWT.SecretKeyEnv)
	}

	if cfg.Cache.Redis.PasswordEnv != "" {
		cfg.Cache.Redis.Password = os.Getenv(cfg.Cache.Redis.PasswordEnv)
	}

	if cfg.Store.DSNEnv != "" {
		cfg.Store.DSN = os.Getenv(cfg.Store.DSNEnv)
	}
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("version", 1)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultHTTPPort)
	v.SetDefault("server.metrics_port", defaultMetricsPort)
	v.SetDefault("server.read_timeout", defaultReadTimeout)
	v.SetDefault("server.write_timeout", defaultWriteTimeout)
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.keepalive_interval", defaultKeepAlive)
	v.SetDefault("server.max_body_bytes", defaultMaxBodyBytes)
}

func setAuthDefaults(v *viper.Viper) {
	v.SetDefault("auth.jwt.org_claim", "tumiki/org_id")
	v.SetDefault("auth.jwt.leeway", defaultJWTLeeway)
	v.SetDefault("auth.jwt.secret_key_env", "MCP_GATEWAY_JWT_SECRET")
	v.SetDefault("auth.api_key.header", "Tumiki-API-Key")
	v.SetDefault("auth.api_key.query_param", "api_key")
	v.SetDefault("auth.api_key.bearer_prefixes", []string{"tumiki_"})
}

func setRuntimeDefaults(v *viper.Viper) {
	v.SetDefault("sessions.max_sessions", defaultMaxSessions)
	v.SetDefault("sessions.timeout", defaultSessionTimeout)
	v.SetDefault("sessions.max_error_count", defaultMaxErrorCount)
	v.SetDefault("sessions.cleanup_interval", defaultCleanupInterval)
	v.SetDefault("pool.max_connections_per_server", defaultMaxConnsPerServer)
	v.SetDefault("pool.idle_timeout", defaultPoolIdleTimeout)
	v.SetDefault("pool.cleanup_interval", defaultCleanupInterval)
	v.SetDefault("pool.connect_timeout", defaultConnectTimeout)
	v.SetDefault("pool.health_check_timeout", defaultHealthTimeout)
	v.SetDefault("recovery.max_retry_attempts", defaultMaxRetryAttempts)
	v.SetDefault("recovery.base_delay", defaultBaseDelay)
	v.SetDefault("recovery.max_delay", defaultMaxDelay)
	v.SetDefault("recovery.monitor_interval", defaultMonitorInterval)
	v.SetDefault("executor.call_timeout", 0)
	v.SetDefault("shutdown.grace_period", defaultGracePeriod)
}

func setDataDefaults(v *viper.Viper) {
	v.SetDefault("cache.provider", CacheProviderMemory)
	v.SetDefault("cache.key_prefix", "mcp-gateway:")
	v.SetDefault("cache.redis.url", "redis://localhost:6379/0")
	v.SetDefault("cache.redis.password_env", "MCP_GATEWAY_REDIS_PASSWORD")
	v.SetDefault("cache.server_ttl", defaultServerTTL)
	v.SetDefault("cache.membership_ttl", defaultMembershipTTL)
	v.SetDefault("cache.instance_ttl", defaultInstanceTTL)
	v.SetDefault("cache.api_key_ttl", defaultAPIKeyTTL)
	v.SetDefault("cache.negative_ttl", defaultNegativeTTL)
	v.SetDefault("store.dsn_env", "MCP_GATEWAY_DATABASE_URL")
	v.SetDefault("store.max_conns", defaultStoreMaxConns)
	v.SetDefault("analytics.enabled", false)
	v.SetDefault("analytics.stream", "mcp-gateway:request-logs")
	v.SetDefault("analytics.max_len", defaultStreamMaxLen)
	v.SetDefault("analytics.queue_size", defaultQueueSize)
	v.SetDefault("analytics.workers", defaultWorkers)
	v.SetDefault("analytics.publish_timeout", defaultPublishTimeout)
	v.SetDefault("analytics.circuit_breaker.failure_threshold", defaultFailureThreshold)
	v.SetDefault("analytics.circuit_breaker.success_threshold", defaultSuccessThreshold)
	v.SetDefault("analytics.circuit_breaker.timeout", defaultBreakerTimeout)
}

func setOperationalDefaults(v *viper.Viper) {
	v.SetDefault("features.privacy.enabled", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "mcp-gateway")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.sample_rate", defaultTracingSampleRate)
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.otlp_insecure", false)
}

func setDefaults(v *viper.Viper) {
	setServerDefaults(v)
	setAuthDefaults(v)
	setRuntimeDefaults(v)
	setDataDefaults(v)
	setOperationalDefaults(v)
}

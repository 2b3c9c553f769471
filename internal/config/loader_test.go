package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, defaultHTTPPort, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.KeepAliveInterval)
	assert.Equal(t, "Tumiki-API-Key", cfg.Auth.APIKey.Header)
	assert.Equal(t, []string{"tumiki_"}, cfg.Auth.APIKey.BearerPrefixes)
	assert.Equal(t, defaultMaxSessions, cfg.Sessions.MaxSessions)
	assert.Equal(t, defaultMaxConnsPerServer, cfg.Pool.MaxConnectionsPerServer)
	assert.Equal(t, time.Second, cfg.Recovery.BaseDelay)
	assert.Equal(t, CacheProviderMemory, cfg.Cache.Provider)
	assert.False(t, cfg.Analytics.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Shutdown.GracePeriod)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
version: 1
server:
  port: 9000
sessions:
  max_sessions: 50
  timeout: 2m
pool:
  max_connections_per_server: 3
cache:
  provider: redis
  redis:
    url: redis://cache:6379/1
`)

	t.Setenv("MCP_GATEWAY_POOL_MAX_CONNECTIONS_PER_SERVER", "7")
	t.Setenv("MCP_GATEWAY_DATABASE_URL", "postgres://gateway@db/gateway")
	t.Setenv("MCP_GATEWAY_JWT_SECRET", "hmac-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Sessions.MaxSessions)
	assert.Equal(t, 2*time.Minute, cfg.Sessions.Timeout)
	assert.Equal(t, 7, cfg.Pool.MaxConnectionsPerServer)
	assert.Equal(t, CacheProviderRedis, cfg.Cache.Provider)
	assert.Equal(t, "redis://cache:6379/1", cfg.Cache.Redis.URL)
	assert.Equal(t, "postgres://gateway@db/gateway", cfg.Store.DSN)
	assert.Equal(t, "hmac-secret", cfg.Auth.JWT.SecretKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "zero sessions",
			body:    "sessions:\n  max_sessions: 0\n",
			wantErr: "sessions.max_sessions",
		},
		{
			name:    "zero pool capacity",
			body:    "pool:\n  max_connections_per_server: 0\n",
			wantErr: "pool.max_connections_per_server",
		},
		{
			name:    "max delay below base",
			body:    "recovery:\n  base_delay: 10s\n  max_delay: 1s\n",
			wantErr: "recovery.max_delay",
		},
		{
			name:    "unknown cache provider",
			body:    "cache:\n  provider: memcached\n",
			wantErr: "unsupported cache provider",
		},
		{
			name:    "otlp exporter without endpoint",
			body:    "tracing:\n  enabled: true\n  exporter: otlp\n",
			wantErr: "tracing.otlp_endpoint",
		},
		{
			name:    "unknown tracing exporter",
			body:    "tracing:\n  enabled: true\n  exporter: zipkin\n",
			wantErr: "unsupported tracing exporter",
		},
		{
			name:    "unsupported version",
			body:    "version: 2\n",
			wantErr: "unsupported config version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, customerrors.IsType(err, customerrors.TypeValidation))
		})
	}
}

func TestValidateConfig_Nil(t *testing.T) {
	err := ValidateConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")
}

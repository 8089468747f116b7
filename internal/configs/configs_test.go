package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzpresence/internal/app/state"
)

var configKeys = []string{
	"ENVIRONMENT", "PORT", "ALLOWED_ORIGINS", "INSTANCE_UID", "STATE_BACKEND", "REDIS_URL", "REDIS_KEY_PREFIX",
	"DATABASE_URL", "AUTH_MODE", "JWT_SECRET", "HEARTBEAT_INTERVAL", "PRESENCE_TTL", "STORE_TIMEOUT", "SHUTDOWN_TIMEOUT",
}

// clearEnv blanks every configuration key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.Port)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Equal(t, AuthModeNone, cfg.AuthMode)
	assert.Equal(t, state.BackendMemory, cfg.StateBackend)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.PresenceTTL)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestLoadConfigProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("STATE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("REDIS_KEY_PREFIX", "{presence}:")
	t.Setenv("STORE_TIMEOUT", "2s")
	t.Setenv("AUTH_MODE", "JWT")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("INSTANCE_UID", "pod-7")
	t.Setenv("HEARTBEAT_INTERVAL", "5s")
	t.Setenv("PRESENCE_TTL", "20s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, AuthModeJWT, cfg.AuthMode)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "pod-7", cfg.InstanceUID)
	assert.Equal(t, state.Config{Backend: "redis", RedisURL: "redis://cache:6379/1", KeyPrefix: "{presence}:"}, cfg.StateConfig())
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 20*time.Second, cfg.PresenceTTL)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"PORT": "abc"}},
		{"privileged port", map[string]string{"PORT": "80"}},
		{"bad auth mode", map[string]string{"AUTH_MODE": "basic"}},
		{"bad backend", map[string]string{"STATE_BACKEND": "etcd"}},
		{"bad duration", map[string]string{"HEARTBEAT_INTERVAL": "soon"}},
		{"negative duration", map[string]string{"SHUTDOWN_TIMEOUT": "-1s"}},
		{"zero store timeout", map[string]string{"STORE_TIMEOUT": "0s"}},
		{"ttl not above interval", map[string]string{"HEARTBEAT_INTERVAL": "30s", "PRESENCE_TTL": "30s"}},
		{"production memory", map[string]string{"ENVIRONMENT": "production"}},
		{"production redis without url", map[string]string{"ENVIRONMENT": "production", "STATE_BACKEND": "redis"}},
		{"production jwt without secret", map[string]string{"ENVIRONMENT": "production", "STATE_BACKEND": "redis", "REDIS_URL": "redis://x:6379", "AUTH_MODE": "jwt"}},
		{"production postgres without dsn", map[string]string{"ENVIRONMENT": "production", "STATE_BACKEND": "postgres"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9100\nSTATE_BACKEND=redis\n"), 0o600))
	t.Setenv("STATE_BACKEND", "postgres")
	require.NoError(t, os.Unsetenv("PORT"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))

	assert.Equal(t, "9100", os.Getenv("PORT"))
	assert.Equal(t, "postgres", os.Getenv("STATE_BACKEND"))
}

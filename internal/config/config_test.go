package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	validEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Database.Redis.Enabled)
	assert.Equal(t, 50, cfg.WebSocket.HistorySize)
	assert.Equal(t, int64(64*1024), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 2*time.Minute, cfg.WebSocket.IdleAfter)
	assert.Equal(t, 40, cfg.WebSocket.RateLimitThreshold)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromYAML(t *testing.T) {
	validEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: "9090"
database:
  driver: postgres
  postgres:
    host: db.internal
    port: "5432"
    user: collab
    database: diagrams
websocket:
  history_size: 25
  idle_after: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 25, cfg.WebSocket.HistorySize)
	assert.Equal(t, 5*time.Minute, cfg.WebSocket.IdleAfter)
	// Untouched values keep their defaults
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
}

func TestEnvOverridesYAML(t *testing.T) {
	validEnv(t)
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("WS_HISTORY_SIZE", "10")
	t.Setenv("WS_PING_INTERVAL", "15s")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 10, cfg.WebSocket.HistorySize)
	assert.Equal(t, 15*time.Second, cfg.WebSocket.PingInterval)
	assert.True(t, cfg.Database.Redis.Enabled)
}

func TestValidateRejectsMissingJWTSecret(t *testing.T) {
	cfg := getDefaultConfig()
	cfg.Auth.JWT.Secret = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := getDefaultConfig()
	cfg.Auth.JWT.Secret = "s"
	cfg.Database.Driver = "oracle"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroHistory(t *testing.T) {
	cfg := getDefaultConfig()
	cfg.Auth.JWT.Secret = "s"
	cfg.WebSocket.HistorySize = 0
	assert.Error(t, cfg.Validate())
}

func TestPostgresDSN(t *testing.T) {
	pc := PostgresConfig{
		Host:     "localhost",
		Port:     "5432",
		User:     "collab",
		Password: "pw",
		Database: "diagrams",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=collab password=pw dbname=diagrams sslmode=disable",
		pc.DSN())
}

func TestRedisAddr(t *testing.T) {
	rc := RedisConfig{Host: "cache.internal", Port: "6379"}
	assert.Equal(t, "cache.internal:6379", rc.Addr())
}

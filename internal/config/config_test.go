package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[server]
addr = ":6000"
shutdown_timeout = "3s"

[mongodb]
uri = "mongodb://localhost:27017"
database = "community"

[redis]
addr = "localhost:6379"
ttl = "30s"

[jwt]
active_kid = "k2"
ttl = "1h"

[jwt.keys]
k1 = "old-secret"
k2 = "new-secret"

[feed]
default_page_size = 10
max_page_size = 50

[reconcile]
interval = "15m"
workers = 8
rate_per_second = 20.5
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "community", cfg.MongoDB.Database)
	assert.Equal(t, 30*time.Second, cfg.Redis.TTL)
	assert.Equal(t, map[string]string{"k1": "old-secret", "k2": "new-secret"}, cfg.JWT.Keys)
	assert.Equal(t, "k2", cfg.JWT.ActiveKID)
	assert.Equal(t, time.Hour, cfg.JWT.TTL)
	assert.Equal(t, int64(10), cfg.Feed.DefaultPageSize)
	assert.Equal(t, 15*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 8, cfg.Reconcile.Workers)
	assert.InDelta(t, 20.5, cfg.Reconcile.RatePerSecond, 0.001)

	// defaults fill what the file leaves out
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, int64(500), cfg.Reconcile.BatchSize)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("COMMUNITY_SERVER__ADDR", ":7000")
	t.Setenv("COMMUNITY_MONGODB__URI", "mongodb://db:27017")
	t.Setenv("COMMUNITY_LOGGING__LEVEL", "debug")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "mongodb://db:27017", cfg.MongoDB.URI)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("COMMUNITY_MONGODB__URI", "mongodb://localhost:27017")
	t.Setenv("COMMUNITY_JWT__SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":50051", cfg.Server.Addr)
	assert.Equal(t, "fellowship", cfg.MongoDB.Database)
	assert.Equal(t, 24*time.Hour, cfg.JWT.TTL)
	assert.Equal(t, int64(20), cfg.Feed.DefaultPageSize)
	assert.Equal(t, int64(100), cfg.Feed.MaxPageSize)
	assert.Empty(t, cfg.Redis.Addr, "cache is off unless configured")
}

func TestValidate(t *testing.T) {
	_, err := Load(writeConfig(t, `[jwt]
secret = "s"`))
	assert.ErrorIs(t, err, ErrMongoURIMissing)

	_, err = Load(writeConfig(t, `[mongodb]
uri = "mongodb://localhost"`))
	assert.ErrorIs(t, err, ErrJWTKeyMissing)

	_, err = Load(writeConfig(t, `[mongodb]
uri = "mongodb://localhost"
[jwt]
secret = "s"
[feed]
default_page_size = 80
max_page_size = 40`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

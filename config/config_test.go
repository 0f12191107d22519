package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shahidsiddiqui786/photoselect/ratelimit"
)

func envOf(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsFromEnvOnly(t *testing.T) {
	cfg, err := load("", envOf(map[string]string{"DRIVE_API_KEYS": "key-a, key-b,,key-c"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"key-a", "key-b", "key-c"}, cfg.Drive.APIKeys)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.Listing.TTL)
	assert.Equal(t, 3, cfg.Archive.Concurrency)
	assert.Equal(t, 500, cfg.Archive.MaxObjects)
	assert.Equal(t, 300*time.Second, cfg.Archive.Timeout)
	assert.Equal(t, time.Minute, cfg.Drive.KeyCooldown)
	assert.Equal(t, ratelimit.ProviderMemory, cfg.RateLimit.Provider)
	assert.Equal(t, ratelimit.Rule{Limit: 5, Window: time.Minute}, cfg.RateLimit.Rules["archive"])
	assert.False(t, cfg.IsProduction())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
env: production
server:
  addr: ":9090"
  admin_token: secret
log:
  level: debug
drive:
  api_keys: [one, two]
  key_cooldown: 90s
cache:
  max_entries: 50
  cleanup_interval: 30s
archive:
  concurrency: 4
rate_limit:
  provider: redis
  rules:
    general:
      limit: 20
      window: 10s
redis:
  addr: redis:6379
`)

	cfg, err := load(path, envOf(nil))
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.Server.AdminToken)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"one", "two"}, cfg.Drive.APIKeys)
	assert.Equal(t, 90*time.Second, cfg.Drive.KeyCooldown)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, 30*time.Second, cfg.Cache.CleanupInterval)
	assert.Equal(t, 4, cfg.Archive.Concurrency)
	assert.Equal(t, ratelimit.ProviderRedis, cfg.RateLimit.Provider)
	assert.Equal(t, ratelimit.Rule{Limit: 20, Window: 10 * time.Second}, cfg.RateLimit.Rules["general"])
	assert.Contains(t, cfg.RateLimit.Rules, "diagnostics")
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[server]
addr = ":7070"

[drive]
api_keys = ["alpha"]

[listing]
ttl = "2m"
`)

	cfg, err := load(path, envOf(nil))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, []string{"alpha"}, cfg.Drive.APIKeys)
	assert.Equal(t, 2*time.Minute, cfg.Listing.TTL)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
drive:
  api_keys: [from-file]
archive:
  max_objects: 100
`)

	cfg, err := load(path, envOf(map[string]string{
		"DRIVE_API_KEYS":      "from-env",
		"ARCHIVE_MAX_OBJECTS": "250",
		"LISTING_TTL":         "1m",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"from-env"}, cfg.Drive.APIKeys)
	assert.Equal(t, 250, cfg.Archive.MaxObjects)
	assert.Equal(t, time.Minute, cfg.Listing.TTL)
}

func TestValidation(t *testing.T) {
	_, err := load("", envOf(nil))
	assert.Error(t, err, "at least one api key is required")

	_, err = load("", envOf(map[string]string{"DRIVE_API_KEYS": "k", "LOG_LEVEL": "loud"}))
	assert.Error(t, err)

	_, err = load("", envOf(map[string]string{"DRIVE_API_KEYS": "k", "RATE_LIMIT_PROVIDER": "memcached"}))
	assert.Error(t, err)

	path := writeFile(t, "config.yaml", `
drive:
  api_keys: [k]
rate_limit:
  rules:
    general:
      limit: 0
      window: 1m
`)
	_, err = load(path, envOf(nil))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), envOf(nil))
	assert.Error(t, err)
}

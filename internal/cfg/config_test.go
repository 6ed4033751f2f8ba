package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var settingKeys = []string{
	"APP_ENV", "LISTEN_ADDRESS", "HTTP_READ_TIMEOUT", "HTTP_WRITE_TIMEOUT", "SHUTDOWN_TIMEOUT",
	"REGISTRY_PATH", "LOCK_TTL_SECONDS", "LOCK_WAIT", "IDLE_TIMEOUT_SECONDS",
	"REAPER_INTERVAL_SECONDS", "CASE_INSENSITIVE_PATHS", "CONFLICT_POLICY", "SESSION_ID_POLICY",
	"COMPACT_EVERY", "TOMBSTONE_RETENTION", "LOCK_BACKEND", "REDIS_ADDR", "REDIS_PASSWORD",
	"REDIS_DB", "REDIS_KEY_PREFIX", "KAFKA_BROKERS", "KAFKA_TOPIC", "OTEL_SERVICE_NAME",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SAMPLER_RATIO", envConfigFile,
}

// clearEnv blanks every setting so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range settingKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("REGISTRY_PATH", "/var/lib/persistenceai")

	config, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", config.AppEnv)
	assert.Equal(t, ":4096", config.HTTPServer.ListenAddress)
	assert.Equal(t, 15*time.Second, config.HTTPServer.ReadTimeout)
	assert.Equal(t, "/var/lib/persistenceai", config.Registry.Path)
	assert.Equal(t, 1000, config.Registry.CompactEvery)
	assert.Zero(t, config.Registry.TombstoneRetention)
	assert.Equal(t, 30*time.Second, config.Lock.TTL)
	assert.Zero(t, config.Lock.Wait)
	assert.Equal(t, LockBackendMemory, config.Lock.Backend)
	assert.Equal(t, 30*time.Minute, config.Session.IdleTimeout)
	assert.Equal(t, time.Minute, config.Session.ReaperInterval)
	assert.False(t, config.Session.CaseInsensitivePaths)
	assert.Equal(t, "attach", config.Session.ConflictPolicy)
	assert.Equal(t, "uuid", config.Session.IDPolicy)
	assert.False(t, config.Kafka.Enabled())
	assert.Equal(t, "persistenceai", config.Observability.ServiceName)
	assert.Equal(t, 1.0, config.Observability.SamplerRatio)
	assert.Equal(t, 10*time.Second, config.ShutdownTimeout)
}

func TestLoad_Explicit(t *testing.T) {
	clearEnv(t)
	envVars := map[string]string{
		"APP_ENV":                 "production",
		"LISTEN_ADDRESS":          "127.0.0.1:9000",
		"REGISTRY_PATH":           "/data/registry",
		"LOCK_TTL_SECONDS":        "5",
		"LOCK_WAIT":               "250ms",
		"IDLE_TIMEOUT_SECONDS":    "600",
		"REAPER_INTERVAL_SECONDS": "15",
		"CASE_INSENSITIVE_PATHS":  "true",
		"CONFLICT_POLICY":         "reject",
		"SESSION_ID_POLICY":       "uuidv7",
		"COMPACT_EVERY":           "50",
		"TOMBSTONE_RETENTION":     "72h",
		"LOCK_BACKEND":            "redis",
		"REDIS_ADDR":              "localhost:6379",
		"REDIS_DB":                "2",
		"KAFKA_BROKERS":           "k1:9092, k2:9092,",
		"KAFKA_TOPIC":             "sessions",
		"OTEL_SAMPLER_RATIO":      "0.25",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	config, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", config.HTTPServer.ListenAddress)
	assert.Equal(t, 5*time.Second, config.Lock.TTL)
	assert.Equal(t, 250*time.Millisecond, config.Lock.Wait)
	assert.Equal(t, 10*time.Minute, config.Session.IdleTimeout)
	assert.Equal(t, 15*time.Second, config.Session.ReaperInterval)
	assert.True(t, config.Session.CaseInsensitivePaths)
	assert.Equal(t, "reject", config.Session.ConflictPolicy)
	assert.Equal(t, "uuidv7", config.Session.IDPolicy)
	assert.Equal(t, 50, config.Registry.CompactEvery)
	assert.Equal(t, 72*time.Hour, config.Registry.TombstoneRetention)
	assert.Equal(t, LockBackendRedis, config.Lock.Backend)
	assert.Equal(t, "localhost:6379", config.Redis.Addr)
	assert.Equal(t, 2, config.Redis.DB)
	assert.Equal(t, "dirlock:", config.Redis.KeyPrefix)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, config.Kafka.Brokers)
	assert.Equal(t, "sessions", config.Kafka.Topic)
	assert.Equal(t, 0.25, config.Observability.SamplerRatio)
}

func TestLoad_MissingRequiredEnv(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing env: APP_ENV")
	assert.Contains(t, err.Error(), "missing env: REGISTRY_PATH")
}

func TestLoad_RedisBackendNeedsAddr(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("REGISTRY_PATH", "/tmp/registry")
	t.Setenv("LOCK_BACKEND", "redis")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing env: REDIS_ADDR")
}

func TestLoad_InvalidValuesAreCollected(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("REGISTRY_PATH", "/tmp/registry")
	t.Setenv("LOCK_TTL_SECONDS", "soon")
	t.Setenv("CONFLICT_POLICY", "share")
	t.Setenv("CASE_INSENSITIVE_PATHS", "sometimes")
	t.Setenv("LOCK_BACKEND", "etcd")
	t.Setenv("OTEL_SAMPLER_RATIO", "2")

	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{
		"LOCK_TTL_SECONDS",
		"CONFLICT_POLICY",
		"CASE_INSENSITIVE_PATHS",
		"LOCK_BACKEND",
		"OTEL_SAMPLER_RATIO",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sessiond.yaml")
	overlay := `
app_env: staging
registry_path: /srv/registry
lock_ttl_seconds: 12
case_insensitive_paths: true
kafka_brokers:
  - a:9092
  - b:9092
conflict_policy: attach
`
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o644))
	t.Setenv(envConfigFile, path)
	t.Setenv("CONFLICT_POLICY", "reject")

	config, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "staging", config.AppEnv)
	assert.Equal(t, "/srv/registry", config.Registry.Path)
	assert.Equal(t, 12*time.Second, config.Lock.TTL)
	assert.True(t, config.Session.CaseInsensitivePaths)
	assert.Equal(t, []string{"a:9092", "b:9092"}, config.Kafka.Brokers)
	assert.Equal(t, "reject", config.Session.ConflictPolicy, "environment wins over the file")
}

func TestLoad_YAMLOverlayMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("REGISTRY_PATH", "/tmp/registry")
	t.Setenv(envConfigFile, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.ErrorContains(t, err, "read config file")
}

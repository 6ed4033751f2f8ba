package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

const envConfigFile = "SESSIOND_CONFIG_FILE"

type Config struct {
	AppEnv          string
	HTTPServer      HTTPServerConfig
	Registry        RegistryConfig
	Session         SessionConfig
	Lock            LockConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
	Observability   OtelConfig
	ShutdownTimeout time.Duration
}

// Load reads .env (if present), the optional YAML overlay named by
// SESSIOND_CONFIG_FILE, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	l := NewLoader()
	l.loadOverlay(l.getEnvWithDefault(envConfigFile, ""))

	cfg := &Config{
		AppEnv:          l.requireEnv("APP_ENV"),
		HTTPServer:      l.loadHTTPServer(),
		Registry:        l.loadRegistry(),
		Session:         l.loadSession(),
		Lock:            l.loadLock(),
		Kafka:           l.loadKafka(),
		Observability:   l.loadOtel(),
		ShutdownTimeout: l.getEnvDurationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	cfg.Redis = l.loadRedis(cfg.Lock.Backend == LockBackendRedis)

	if l.HasErrors() {
		return nil, l.Error()
	}

	return cfg, nil
}

package cfg

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// loadRedis only insists on an address when Redis backs the lock table.
func (l *Loader) loadRedis(required bool) RedisConfig {
	addr := l.getEnvWithDefault("REDIS_ADDR", "")
	if required {
		addr = l.requireEnv("REDIS_ADDR")
	}
	return RedisConfig{
		Addr:      addr,
		Password:  l.getEnvWithDefault("REDIS_PASSWORD", ""),
		DB:        l.getEnvIntOrDefault("REDIS_DB", 0),
		KeyPrefix: l.getEnvWithDefault("REDIS_KEY_PREFIX", "dirlock:"),
	}
}

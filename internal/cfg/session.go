package cfg

import (
	"errors"
	"time"
)

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

type RegistryConfig struct {
	Path               string
	CompactEvery       int
	TombstoneRetention time.Duration
}

type SessionConfig struct {
	IdleTimeout          time.Duration
	ReaperInterval       time.Duration
	CaseInsensitivePaths bool
	ConflictPolicy       string
	IDPolicy             string
}

type LockConfig struct {
	Backend string
	TTL     time.Duration
	Wait    time.Duration
}

func (l *Loader) loadRegistry() RegistryConfig {
	cfg := RegistryConfig{
		Path:               l.requireEnv("REGISTRY_PATH"),
		CompactEvery:       l.getEnvIntOrDefault("COMPACT_EVERY", 1000),
		TombstoneRetention: l.getEnvDurationOrDefault("TOMBSTONE_RETENTION", 0),
	}
	if cfg.CompactEvery <= 0 {
		l.errs = append(l.errs, errors.New("COMPACT_EVERY must be positive"))
	}
	return cfg
}

func (l *Loader) loadSession() SessionConfig {
	cfg := SessionConfig{
		IdleTimeout:          l.getEnvSecondsOrDefault("IDLE_TIMEOUT_SECONDS", 30*time.Minute),
		ReaperInterval:       l.getEnvSecondsOrDefault("REAPER_INTERVAL_SECONDS", time.Minute),
		CaseInsensitivePaths: l.getEnvBoolOrDefault("CASE_INSENSITIVE_PATHS", false),
		ConflictPolicy:       l.getEnvWithDefault("CONFLICT_POLICY", "attach"),
		IDPolicy:             l.getEnvWithDefault("SESSION_ID_POLICY", "uuid"),
	}
	l.oneOf("CONFLICT_POLICY", cfg.ConflictPolicy, "attach", "reject")
	l.oneOf("SESSION_ID_POLICY", cfg.IDPolicy, "uuid", "uuidv7")
	if cfg.IdleTimeout <= 0 {
		l.errs = append(l.errs, errors.New("IDLE_TIMEOUT_SECONDS must be positive"))
	}
	if cfg.ReaperInterval <= 0 {
		l.errs = append(l.errs, errors.New("REAPER_INTERVAL_SECONDS must be positive"))
	}
	return cfg
}

func (l *Loader) loadLock() LockConfig {
	cfg := LockConfig{
		Backend: l.getEnvWithDefault("LOCK_BACKEND", LockBackendMemory),
		TTL:     l.getEnvSecondsOrDefault("LOCK_TTL_SECONDS", 30*time.Second),
		Wait:    l.getEnvDurationOrDefault("LOCK_WAIT", 0),
	}
	l.oneOf("LOCK_BACKEND", cfg.Backend, LockBackendMemory, LockBackendRedis)
	if cfg.TTL <= 0 {
		l.errs = append(l.errs, errors.New("LOCK_TTL_SECONDS must be positive"))
	}
	if cfg.Wait < 0 {
		l.errs = append(l.errs, errors.New("LOCK_WAIT must not be negative"))
	}
	return cfg
}

package bootstrap

import (
	"fmt"

	"persistenceai/internal/cfg"
	"persistenceai/pkg/lock"

	"github.com/redis/go-redis/v9"
)

// InitLockManager picks the lock backend. client may be nil for the memory
// backend.
func InitLockManager(c *cfg.Config, client redis.UniversalClient) (lock.Manager, error) {
	switch c.Lock.Backend {
	case cfg.LockBackendMemory, "":
		return lock.NewMemoryManager(), nil
	case cfg.LockBackendRedis:
		if client == nil {
			return nil, fmt.Errorf("lock backend %q needs a redis client", c.Lock.Backend)
		}
		return lock.NewRedisManager(client, lock.WithPrefix(c.Redis.KeyPrefix)), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}
}

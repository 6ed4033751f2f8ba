package bootstrap

import (
	"context"
	"fmt"
	"time"

	"persistenceai/internal/cfg"

	"github.com/redis/go-redis/v9"
)

// InitRedis connects to the Redis server that backs the shared lock table.
func InitRedis(ctx context.Context, c *cfg.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", c.Addr, err)
	}
	return client, nil
}

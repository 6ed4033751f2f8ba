package lock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisManager(t *testing.T, opts ...RedisOption) (*miniredis.Miniredis, *RedisManager) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisManager(client, opts...)
}

func TestRedisManager_ExclusiveConflict(t *testing.T) {
	ctx := context.Background()
	_, m := setupRedisManager(t)

	token, err := m.Acquire(ctx, "/tmp/proj", Exclusive, time.Minute)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "/tmp/proj", Exclusive, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	_, err = m.Acquire(ctx, "/tmp/proj", Shared, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	valid, err := m.Valid(ctx, token)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestRedisManager_ExpiryFreesKey(t *testing.T) {
	ctx := context.Background()
	mr, m := setupRedisManager(t)

	token, err := m.Acquire(ctx, "k", Exclusive, 5*time.Second)
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)

	valid, err := m.Valid(ctx, token)
	require.NoError(t, err)
	assert.False(t, valid)

	err = m.Renew(ctx, token, 5*time.Second)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = m.Acquire(ctx, "k", Exclusive, 5*time.Second)
	assert.NoError(t, err)
}

func TestRedisManager_Renew(t *testing.T) {
	ctx := context.Background()
	mr, m := setupRedisManager(t)

	token, err := m.Acquire(ctx, "k", Exclusive, 5*time.Second)
	require.NoError(t, err)

	mr.FastForward(4 * time.Second)
	require.NoError(t, m.Renew(ctx, token, 5*time.Second))

	mr.FastForward(4 * time.Second)
	valid, err := m.Valid(ctx, token)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestRedisManager_Shared(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	_, m := setupRedisManager(t, WithRedisClock(clock.Now), WithPrefix("test:"))

	a, err := m.Acquire(ctx, "k", Shared, time.Minute)
	require.NoError(t, err)
	b, err := m.Acquire(ctx, "k", Shared, time.Minute)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "k", Exclusive, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, m.Renew(ctx, a, time.Minute))

	require.NoError(t, m.Release(ctx, a))
	require.NoError(t, m.Release(ctx, b))

	_, err = m.Acquire(ctx, "k", Exclusive, time.Minute)
	assert.NoError(t, err)
}

func TestRedisManager_ReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	_, m := setupRedisManager(t)

	token, err := m.Acquire(ctx, "k", Exclusive, time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, token))
	require.NoError(t, m.Release(ctx, token))

	_, err = m.Acquire(ctx, "k", Exclusive, time.Minute)
	assert.NoError(t, err)
}

func TestRedisManager_ReleaseDoesNotStealNewHolder(t *testing.T) {
	ctx := context.Background()
	mr, m := setupRedisManager(t)

	old, err := m.Acquire(ctx, "k", Exclusive, time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	current, err := m.Acquire(ctx, "k", Exclusive, time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, old))

	valid, err := m.Valid(ctx, current)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestRedisManager_KeysShareHashTag(t *testing.T) {
	tests := []struct {
		name string
		key  string
		mode Mode
	}{
		{"exclusive", "/tmp/proj", Exclusive},
		{"shared", "/tmp/proj", Shared},
		{"key with braces", "/tmp/{a}/b}", Exclusive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mr, m := setupRedisManager(t)

			token, err := m.Acquire(ctx, tt.key, tt.mode, time.Minute)
			require.NoError(t, err)

			keys := mr.Keys()
			require.Len(t, keys, 2)
			want := "{" + slot(tt.key) + "}"
			for _, k := range keys {
				require.True(t, strings.HasPrefix(k, defaultRedisPrefix+"{"), k)
				assert.Equal(t, want, k[len(defaultRedisPrefix):strings.Index(k, "}")+1], k)
			}
			assert.True(t, strings.HasPrefix(string(token), slot(tt.key)+"."))
		})
	}
}

func TestRedisManager_ForeignToken(t *testing.T) {
	ctx := context.Background()
	_, m := setupRedisManager(t)

	valid, err := m.Valid(ctx, "not-a-redis-token")
	require.NoError(t, err)
	assert.False(t, valid)
	assert.NoError(t, m.Release(ctx, "not-a-redis-token"))
	assert.ErrorIs(t, m.Renew(ctx, "not-a-redis-token", time.Minute), ErrTokenExpired)
}

func TestRedisManager_Ping(t *testing.T) {
	_, m := setupRedisManager(t)
	assert.NoError(t, m.Ping(context.Background()))
}

func TestDecodeRecord(t *testing.T) {
	mode, key, err := decodeRecord("s|/a|b")
	require.NoError(t, err)
	assert.Equal(t, Shared, mode)
	assert.Equal(t, "/a|b", key)

	_, _, err = decodeRecord("garbage")
	assert.Error(t, err)
}

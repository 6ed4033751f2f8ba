package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "dirlock:"

// KEYS: 1 exclusive holder, 2 shared holders zset, 3 token record.
// ARGV: 1 token, 2 ttl ms, 3 now ms, 4 token record value.
var acquireExclusiveScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[3])
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
if redis.call('ZCARD', KEYS[2]) > 0 then return 0 end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[3], ARGV[4], 'PX', ARGV[2])
return 1
`)

var acquireSharedScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[3])
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('ZADD', KEYS[2], tonumber(ARGV[3]) + tonumber(ARGV[2]), ARGV[1])
if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[2]) then redis.call('PEXPIRE', KEYS[2], ARGV[2]) end
redis.call('SET', KEYS[3], ARGV[4], 'PX', ARGV[2])
return 1
`)

var renewExclusiveScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then return 0 end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('PEXPIRE', KEYS[3], ARGV[2])
return 1
`)

var renewSharedScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[2], ARGV[1])
if not score or tonumber(score) <= tonumber(ARGV[3]) then return 0 end
redis.call('ZADD', KEYS[2], tonumber(ARGV[3]) + tonumber(ARGV[2]), ARGV[1])
if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[2]) then redis.call('PEXPIRE', KEYS[2], ARGV[2]) end
redis.call('PEXPIRE', KEYS[3], ARGV[2])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then redis.call('DEL', KEYS[1]) end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[3])
return 1
`)

var validScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then return 1 end
local score = redis.call('ZSCORE', KEYS[2], ARGV[1])
if score and tonumber(score) > tonumber(ARGV[3]) then return 1 end
return 0
`)

// RedisManager stores the lock table in Redis so several server replicas
// share it. Every check-and-set runs as a single Lua script.
type RedisManager struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption configures a RedisManager.
type RedisOption func(*RedisManager)

// WithPrefix namespaces every key written by the manager.
func WithPrefix(prefix string) RedisOption {
	return func(m *RedisManager) {
		m.prefix = prefix
	}
}

// WithRedisClock overrides the time source used to score shared holders.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(m *RedisManager) {
		m.now = now
	}
}

// NewRedisManager creates a lock manager backed by client.
func NewRedisManager(client redis.UniversalClient, opts ...RedisOption) *RedisManager {
	m := &RedisManager{
		client: client,
		prefix: defaultRedisPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Every key of one lock shares the hash tag {slot(key)}, so each script
// touches a single Redis Cluster slot. Tokens carry the same slot as a prefix
// so the token record can be found from the token alone.

func slot(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

func newToken(key string) Token {
	return Token(slot(key) + "." + uuid.NewString())
}

func (m *RedisManager) keys(key string, token Token) []string {
	tag := m.prefix + "{" + slot(key) + "}:"
	return []string{
		tag + "x",
		tag + "s",
		m.tokenKey(token),
	}
}

func (m *RedisManager) tokenKey(token Token) string {
	tag, id, ok := strings.Cut(string(token), ".")
	if !ok {
		return ""
	}
	return m.prefix + "{" + tag + "}:token:" + id
}

func (m *RedisManager) Acquire(ctx context.Context, key string, mode Mode, ttl time.Duration) (Token, error) {
	if err := validateTTL(ttl); err != nil {
		return "", err
	}

	token := newToken(key)
	script := acquireExclusiveScript
	if mode == Shared {
		script = acquireSharedScript
	}

	ok, err := script.Run(ctx, m.client, m.keys(key, token),
		string(token), ttl.Milliseconds(), m.now().UnixMilli(), encodeRecord(mode, key),
	).Int()
	if err != nil {
		return "", fmt.Errorf("acquire %s: %w", key, err)
	}
	if ok == 0 {
		return "", fmt.Errorf("%w: %s", ErrLockHeld, key)
	}
	return token, nil
}

func (m *RedisManager) Renew(ctx context.Context, token Token, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}

	mode, key, err := m.lookup(ctx, token)
	if err != nil {
		return err
	}

	script := renewExclusiveScript
	if mode == Shared {
		script = renewSharedScript
	}

	ok, err := script.Run(ctx, m.client, m.keys(key, token),
		string(token), ttl.Milliseconds(), m.now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("renew %s: %w", key, err)
	}
	if ok == 0 {
		return ErrTokenExpired
	}
	return nil
}

func (m *RedisManager) Release(ctx context.Context, token Token) error {
	_, key, err := m.lookup(ctx, token)
	if errors.Is(err, ErrTokenExpired) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := releaseScript.Run(ctx, m.client, m.keys(key, token), string(token)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (m *RedisManager) Valid(ctx context.Context, token Token) (bool, error) {
	_, key, err := m.lookup(ctx, token)
	if errors.Is(err, ErrTokenExpired) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ok, err := validScript.Run(ctx, m.client, m.keys(key, token),
		string(token), 0, m.now().UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("validate %s: %w", key, err)
	}
	return ok == 1, nil
}

// Ping checks connectivity for readiness probes.
func (m *RedisManager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisManager) lookup(ctx context.Context, token Token) (Mode, string, error) {
	tokenKey := m.tokenKey(token)
	if tokenKey == "" {
		// Not one of ours, so it cannot be held.
		return 0, "", ErrTokenExpired
	}
	raw, err := m.client.Get(ctx, tokenKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, "", ErrTokenExpired
	}
	if err != nil {
		return 0, "", fmt.Errorf("lookup token: %w", err)
	}
	return decodeRecord(raw)
}

func encodeRecord(mode Mode, key string) string {
	if mode == Shared {
		return "s|" + key
	}
	return "x|" + key
}

func decodeRecord(raw string) (Mode, string, error) {
	kind, key, ok := strings.Cut(raw, "|")
	if !ok {
		return 0, "", fmt.Errorf("malformed token record %q", raw)
	}
	switch kind {
	case "x":
		return Exclusive, key, nil
	case "s":
		return Shared, key, nil
	default:
		return 0, "", fmt.Errorf("malformed token record %q", raw)
	}
}

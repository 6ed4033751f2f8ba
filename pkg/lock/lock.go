// Package lock grants time-bounded access tokens over directory keys.
//
// Locks always carry a ttl. A holder that dies without releasing simply stops
// renewing, and the key becomes available again once the deadline passes.
// Holders that renew too late get ErrTokenExpired and must acquire again,
// giving up any assumption of exclusivity in between.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
)

var (
	// ErrLockHeld is returned when an incompatible lock is live for the key.
	ErrLockHeld = errors.New("lock held")
	// ErrTokenExpired is returned when a token's deadline has passed or the
	// token is unknown.
	ErrTokenExpired = errors.New("lock token expired")
	// ErrInvalidTTL is returned for non-positive ttls.
	ErrInvalidTTL = errors.New("invalid lock ttl")
)

// Mode selects lock compatibility. Shared locks coexist with each other;
// an exclusive lock excludes everything else.
type Mode int

const (
	Exclusive Mode = iota
	Shared
)

func (m Mode) String() string {
	switch m {
	case Exclusive:
		return "exclusive"
	case Shared:
		return "shared"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Token identifies one granted lock. It is opaque to callers.
type Token string

// Entry is a granted lock.
type Entry struct {
	Key       string
	Token     Token
	Mode      Mode
	ExpiresAt time.Time
}

// Expired reports whether the entry's deadline has passed at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Manager is implemented by every lock backend.
type Manager interface {
	// Acquire grants a lock on key or fails with ErrLockHeld.
	Acquire(ctx context.Context, key string, mode Mode, ttl time.Duration) (Token, error)
	// Renew pushes the token's deadline to now+ttl. Fails with ErrTokenExpired
	// when the deadline already passed.
	Renew(ctx context.Context, token Token, ttl time.Duration) error
	// Release drops the lock. Releasing an unknown or expired token is a no-op.
	Release(ctx context.Context, token Token) error
	// Valid reports whether the token is live.
	Valid(ctx context.Context, token Token) (bool, error)
}

// AcquireWait keeps retrying Acquire while the key is held, backing off
// between attempts, until wait elapses. A zero wait fails fast.
func AcquireWait(ctx context.Context, m Manager, key string, mode Mode, ttl, wait time.Duration) (Token, error) {
	if wait <= 0 {
		return m.Acquire(ctx, key, mode, ttl)
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var (
		token   Token
		lastErr error
	)
	err := retry.Do(
		func() error {
			t, err := m.Acquire(waitCtx, key, mode, ttl)
			if err != nil {
				lastErr = err
				return err
			}
			token = t
			return nil
		},
		retry.Context(waitCtx),
		retry.Attempts(0),
		retry.Delay(10*time.Millisecond),
		retry.MaxDelay(250*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrLockHeld)
		}),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return token, nil
	}

	// The wait budget ran out while the key was still held: report contention,
	// not a timeout, unless the caller itself went away.
	if ctx.Err() == nil && errors.Is(lastErr, ErrLockHeld) {
		return "", lastErr
	}
	return "", err
}

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	return nil
}

package session

import (
	"context"
	"errors"

	"persistenceai/pkg/lock"
	"persistenceai/pkg/pathkey"
	"persistenceai/pkg/registry"
)

// ErrNotIdle is returned by Evict when the session was used after the scan
// that nominated it.
var ErrNotIdle = errors.New("session is not idle")

// errorKind is a short label for metrics and logs.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, pathkey.ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, registry.ErrDuplicateSession):
		return "duplicate_session"
	case errors.Is(err, lock.ErrLockHeld):
		return "lock_held"
	case errors.Is(err, registry.ErrNotFound):
		return "not_found"
	case errors.Is(err, lock.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, registry.ErrStaleState):
		return "stale_state"
	case errors.Is(err, ErrNotIdle):
		return "not_idle"
	case errors.Is(err, registry.ErrDurability):
		return "durability"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

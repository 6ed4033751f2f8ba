package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryManager keeps the lock table in process memory. All methods are safe
// for concurrent use.
type MemoryManager struct {
	mu      sync.Mutex
	now     func() time.Time
	byKey   map[string]map[Token]*Entry
	byToken map[Token]*Entry
}

// Option configures a MemoryManager.
type Option func(*MemoryManager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryManager) {
		m.now = now
	}
}

// NewMemoryManager creates an empty in-memory lock table.
func NewMemoryManager(opts ...Option) *MemoryManager {
	m := &MemoryManager{
		now:     time.Now,
		byKey:   make(map[string]map[Token]*Entry),
		byToken: make(map[Token]*Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryManager) Acquire(ctx context.Context, key string, mode Mode, ttl time.Duration) (Token, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateTTL(ttl); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(key, now)

	for _, held := range m.byKey[key] {
		if mode == Exclusive || held.Mode == Exclusive {
			return "", fmt.Errorf("%w: %s (%s until %s)", ErrLockHeld, key, held.Mode, held.ExpiresAt.Format(time.RFC3339))
		}
	}

	entry := &Entry{
		Key:       key,
		Token:     Token(uuid.NewString()),
		Mode:      mode,
		ExpiresAt: now.Add(ttl),
	}
	if m.byKey[key] == nil {
		m.byKey[key] = make(map[Token]*Entry)
	}
	m.byKey[key][entry.Token] = entry
	m.byToken[entry.Token] = entry

	return entry.Token, nil
}

func (m *MemoryManager) Renew(ctx context.Context, token Token, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byToken[token]
	if !ok {
		return ErrTokenExpired
	}

	now := m.now()
	if entry.Expired(now) {
		m.deleteLocked(entry)
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired, entry.ExpiresAt.Format(time.RFC3339))
	}

	entry.ExpiresAt = now.Add(ttl)
	return nil
}

func (m *MemoryManager) Release(_ context.Context, token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.byToken[token]; ok {
		m.deleteLocked(entry)
	}
	return nil
}

func (m *MemoryManager) Valid(_ context.Context, token Token) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byToken[token]
	if !ok {
		return false, nil
	}
	return !entry.Expired(m.now()), nil
}

// Entries returns a copy of the live entries for key.
func (m *MemoryManager) Entries(key string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(key, m.now())

	out := make([]Entry, 0, len(m.byKey[key]))
	for _, e := range m.byKey[key] {
		out = append(out, *e)
	}
	return out
}

// pruneLocked drops expired entries for key. Caller holds m.mu.
func (m *MemoryManager) pruneLocked(key string, now time.Time) {
	for _, e := range m.byKey[key] {
		if e.Expired(now) {
			m.deleteLocked(e)
		}
	}
}

func (m *MemoryManager) deleteLocked(e *Entry) {
	delete(m.byToken, e.Token)
	if held, ok := m.byKey[e.Key]; ok {
		delete(held, e.Token)
		if len(held) == 0 {
			delete(m.byKey, e.Key)
		}
	}
}

package session

import (
	"sync"

	"persistenceai/pkg/pathkey"
)

// keyLockMap hands out one mutex per directory key. Entries are reference
// counted and dropped once nobody holds or waits on them.
type keyLockMap struct {
	mu    sync.Mutex
	locks map[pathkey.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLockMap() *keyLockMap {
	return &keyLockMap{locks: make(map[pathkey.Key]*keyLock)}
}

// lock blocks until key is held and returns the matching unlock.
func (m *keyLockMap) lock(key pathkey.Key) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

func (m *keyLockMap) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

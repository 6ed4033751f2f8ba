package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const lockFileName = "registry.lock"

// ErrRegistryLocked is returned by Open when another live process owns the
// registry directory.
var ErrRegistryLocked = errors.New("registry is locked by another process")

// dirLock guards a registry directory against a second process.
type dirLock struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Nonce     string    `json:"nonce"`
	StartedAt time.Time `json:"started_at"`

	path string
}

// localLocks records the registry directories this process holds, so a lock
// file carrying our own PID can be told apart from one left by an earlier
// process that had the same PID (PID 1 in a restarted container).
var localLocks = struct {
	sync.Mutex
	nonces map[string]string
}{nonces: make(map[string]string)}

// acquireDirLock takes the registry directory. A stale lock file is removed
// and returned as replaced so the caller can report the takeover.
func acquireDirLock(dir string) (l *dirLock, replaced *dirLock, err error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve registry dir: %w", err)
	}
	path := filepath.Join(abs, lockFileName)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	localLocks.Lock()
	defer localLocks.Unlock()

	existing, err := readDirLock(path)
	switch {
	case err == nil && existing.live(hostname):
		return nil, nil, fmt.Errorf("%w: PID %d on %s", ErrRegistryLocked, existing.PID, existing.Hostname)
	case err == nil || !errors.Is(err, os.ErrNotExist):
		// Dead owner or unreadable lock file: stale.
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("remove stale registry lock: %w", err)
		}
		if existing == nil {
			existing = &dirLock{path: path}
		}
		replaced = existing
	}

	l = &dirLock{
		PID:       os.Getpid(),
		Hostname:  hostname,
		Nonce:     uuid.NewString(),
		StartedAt: time.Now(),
		path:      path,
	}

	data, err := json.Marshal(l)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal registry lock: %w", err)
	}

	// O_EXCL closes the race between two processes that both saw no lock.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, nil, ErrRegistryLocked
		}
		return nil, nil, fmt.Errorf("create registry lock: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return nil, nil, fmt.Errorf("write registry lock: %w", err)
	}
	localLocks.nonces[path] = l.Nonce
	return l, replaced, nil
}

// live reports whether the process named by the lock file still holds it.
// The PID of another host cannot be checked from here, so such a lock is
// treated as left behind by a previous placement of the volume.
func (l *dirLock) live(hostname string) bool {
	switch {
	case l.Hostname != "" && l.Hostname != hostname:
		return false
	case l.PID == os.Getpid():
		return localLocks.nonces[l.path] == l.Nonce
	default:
		return isProcessAlive(l.PID)
	}
}

// release removes the lock file if it is still ours.
func (l *dirLock) release() error {
	if l == nil {
		return nil
	}
	localLocks.Lock()
	defer localLocks.Unlock()
	if localLocks.nonces[l.path] == l.Nonce {
		delete(localLocks.nonces, l.path)
	}

	existing, err := readDirLock(l.path)
	if err != nil || existing.Nonce != l.Nonce {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func readDirLock(path string) (*dirLock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l dirLock
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse registry lock: %w", err)
	}
	l.path = path
	return &l, nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

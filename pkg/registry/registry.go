package registry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"persistenceai/pkg/logger"
	"persistenceai/pkg/pathkey"
)

var (
	// ErrDuplicateSession means the key already has an Active session, or the
	// id is taken.
	ErrDuplicateSession = errors.New("duplicate session")
	ErrNotFound         = errors.New("session not found")
	// ErrStaleState is returned when mutating a session that is already closed.
	ErrStaleState = errors.New("session is closed")
	// ErrDurability wraps every failure to make a mutation durable.
	ErrDurability = errors.New("registry durability failure")
	// ErrDegraded is returned for every mutation after a durability failure,
	// until Verify succeeds.
	ErrDegraded = errors.New("registry degraded")
	ErrClosed   = errors.New("registry closed")
)

const defaultCompactEvery = 1000

// Options configures Open.
type Options struct {
	// CompactEvery is the number of log records between checkpoints.
	CompactEvery int
	// TombstoneRetention drops closed sessions older than this at checkpoint.
	// Zero keeps them forever.
	TombstoneRetention time.Duration
	Now                func() time.Time
	Logger             logger.Logger

	wrapLog   func(logFile) logFile
	writeFile func(path string, data []byte, perm os.FileMode) error
}

func (o *Options) setDefaults() {
	if o.CompactEvery <= 0 {
		o.CompactEvery = defaultCompactEvery
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logger.Nop{}
	}
	if o.writeFile == nil {
		o.writeFile = atomicWriteFile
	}
}

// Registry is the durable map of sessions. Reads are served from memory;
// every mutation is serialized through a single writer goroutine and is
// fsynced to the log before it becomes visible.
type Registry struct {
	dir    string
	opts   Options
	log    logger.Logger
	dlock  *dirLock
	closed sync.Once

	mu  sync.RWMutex
	idx *index

	// writer-owned
	wal          logFile
	walSize      int64
	sinceCompact int

	degraded atomic.Pointer[error]

	reqs chan job
	quit chan struct{}
	done chan struct{}
}

type job struct {
	run   func() (Session, error)
	reply chan result
}

type result struct {
	session Session
	err     error
}

// Open recovers the registry stored in dir and starts its writer.
// Sessions that were not closed are demoted to Idle with no owner: their
// directory locks did not survive the restart.
func Open(dir string, opts Options) (*Registry, error) {
	opts.setDefaults()
	ctx := context.Background()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	dlock, stale, err := acquireDirLock(dir)
	if err != nil {
		return nil, err
	}
	if stale != nil {
		opts.Logger.Warn(ctx, "took over stale registry lock",
			logger.Field{Key: "dir", Value: dir},
			logger.Field{Key: "previous_pid", Value: stale.PID},
			logger.Field{Key: "previous_host", Value: stale.Hostname},
		)
	}

	idx, err := loadSnapshot(dir)
	if err != nil {
		_ = dlock.release()
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, walFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		_ = dlock.release()
		return nil, fmt.Errorf("open log: %w", err)
	}

	replay, err := readLog(f)
	if err != nil {
		f.Close()
		_ = dlock.release()
		return nil, fmt.Errorf("read log: %w", err)
	}
	if replay.torn {
		if err := f.Truncate(replay.validEnd); err != nil {
			f.Close()
			_ = dlock.release()
			return nil, fmt.Errorf("truncate torn log tail: %w", err)
		}
		opts.Logger.Warn(ctx, "discarded torn log tail",
			logger.Field{Key: "dir", Value: dir},
			logger.Field{Key: "valid_bytes", Value: replay.validEnd},
		)
	}
	for _, rec := range replay.records {
		idx.apply(rec)
	}

	demoted := 0
	for id, s := range idx.byID {
		if s.Closed() || (s.State == StateIdle && s.OwnerToken == "") {
			continue
		}
		s.State = StateIdle
		s.OwnerToken = ""
		idx.byID[id] = s
		demoted++
	}

	var wal logFile = f
	if opts.wrapLog != nil {
		wal = opts.wrapLog(wal)
	}

	r := &Registry{
		dir:     dir,
		opts:    opts,
		log:     opts.Logger,
		dlock:   dlock,
		idx:     idx,
		wal:     wal,
		walSize: replay.validEnd,
		reqs:    make(chan job),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if len(replay.records) > 0 || demoted > 0 || replay.torn {
		if err := r.checkpoint(); err != nil {
			wal.Close()
			_ = dlock.release()
			return nil, fmt.Errorf("%w: recovery checkpoint: %v", ErrDurability, err)
		}
	}

	r.log.Info(ctx, "registry recovered",
		logger.Field{Key: "dir", Value: dir},
		logger.Field{Key: "sessions", Value: len(idx.byID)},
		logger.Field{Key: "replayed", Value: len(replay.records)},
		logger.Field{Key: "demoted", Value: demoted},
		logger.Field{Key: "seq", Value: idx.seq},
	)

	go r.run()
	return r, nil
}

// Close stops the writer, checkpoints and releases the registry directory.
func (r *Registry) Close() error {
	return r.shutdown(true)
}

func (r *Registry) shutdown(checkpoint bool) error {
	var errs []error
	r.closed.Do(func() {
		close(r.quit)
		<-r.done

		if checkpoint && r.Degraded() == nil {
			if err := r.checkpoint(); err != nil {
				errs = append(errs, fmt.Errorf("final checkpoint: %w", err))
			}
		}
		if err := r.wal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log: %w", err))
		}
		if err := r.dlock.release(); err != nil {
			errs = append(errs, fmt.Errorf("release registry lock: %w", err))
		}
	})
	return errors.Join(errs...)
}

// Lookup returns the live session bound to key: the Active one if any,
// otherwise the most recently used Idle one.
func (r *Registry) Lookup(key pathkey.Key) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.current(key)
}

// Get returns the session with id, including tombstones.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.idx.byID[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns every session ordered by creation time.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.idx.byID))
	for _, s := range r.idx.byID {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ScanIdle yields non-closed sessions last accessed before cutoff, oldest
// first. Candidates are fixed when iteration starts, but each one is re-read
// before it is yielded, so a session touched or closed meanwhile is skipped.
// The sequence can be ranged over again to restart the scan.
func (r *Registry) ScanIdle(cutoff time.Time) iter.Seq[Session] {
	return func(yield func(Session) bool) {
		r.mu.RLock()
		candidates := make([]Session, 0)
		for _, s := range r.idx.byID {
			if !s.Closed() && s.LastAccessedAt.Before(cutoff) {
				candidates = append(candidates, s)
			}
		}
		r.mu.RUnlock()

		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].LastAccessedAt.Before(candidates[j].LastAccessedAt)
		})

		for _, c := range candidates {
			r.mu.RLock()
			s, ok := r.idx.byID[c.ID]
			r.mu.RUnlock()
			if !ok || s.Closed() || !s.LastAccessedAt.Before(cutoff) {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Seq is the sequence number of the last committed record.
func (r *Registry) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.seq
}

// Degraded returns the durability failure that halted mutations, or nil.
func (r *Registry) Degraded() error {
	if p := r.degraded.Load(); p != nil {
		return *p
	}
	return nil
}

// Insert durably records a new session. It fails with ErrDuplicateSession if
// the id exists or the key already has an Active session.
func (r *Registry) Insert(ctx context.Context, s Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Closed() {
		return fmt.Errorf("%w: %s: cannot insert a closed session", ErrInvalidSession, s.ID)
	}

	_, err := r.submit(ctx, func() (Session, error) {
		if _, exists := r.idx.byID[s.ID]; exists {
			return Session{}, fmt.Errorf("%w: id %s already exists", ErrDuplicateSession, s.ID)
		}
		if s.State == StateActive {
			if active, ok := r.idx.activeFor(s.Key, ""); ok {
				return Session{}, fmt.Errorf("%w: %s is active for %s", ErrDuplicateSession, active.ID, s.Key)
			}
		}
		return s, r.commit(OpInsert, s)
	})
	return err
}

// Update applies mutate to a copy of the session and commits the result.
// Id, key and creation time cannot change, last access never moves
// backwards, and closing goes through Remove.
func (r *Registry) Update(ctx context.Context, id string, mutate func(*Session) error) (Session, error) {
	return r.submit(ctx, func() (Session, error) {
		cur, ok := r.idx.byID[id]
		if !ok {
			return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if cur.Closed() {
			return Session{}, fmt.Errorf("%w: %s", ErrStaleState, id)
		}

		next := cur
		if err := mutate(&next); err != nil {
			return Session{}, err
		}
		next.ID, next.Key, next.CreatedAt = cur.ID, cur.Key, cur.CreatedAt
		if next.LastAccessedAt.Before(cur.LastAccessedAt) {
			next.LastAccessedAt = cur.LastAccessedAt
		}

		if next.State == StateClosed {
			return Session{}, fmt.Errorf("%w: %s: close through Remove", ErrInvalidSession, id)
		}
		if next.State == StateActive {
			if other, ok := r.idx.activeFor(next.Key, id); ok {
				return Session{}, fmt.Errorf("%w: %s is active for %s", ErrDuplicateSession, other.ID, next.Key)
			}
		}
		if err := next.Validate(); err != nil {
			return Session{}, err
		}
		if err := r.commit(OpUpdate, next); err != nil {
			return Session{}, err
		}
		return next, nil
	})
}

// Remove closes the session, leaving a tombstone. Removing a session that is
// already closed returns the tombstone unchanged.
func (r *Registry) Remove(ctx context.Context, id string, reason CloseReason) (Session, error) {
	return r.submit(ctx, func() (Session, error) {
		cur, ok := r.idx.byID[id]
		if !ok {
			return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if cur.Closed() {
			return cur, nil
		}

		next := tombstone(cur, reason, r.opts.Now())
		if err := r.commit(OpClose, next); err != nil {
			return Session{}, err
		}
		return next, nil
	})
}

// Replace inserts s and closes every other non-closed session on its key
// with reason, all in one durable write: either s is inserted and the prior
// sessions are closed, or nothing changes. The closed sessions are returned.
func (r *Registry) Replace(ctx context.Context, s Session, reason CloseReason) ([]Session, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Closed() {
		return nil, fmt.Errorf("%w: %s: cannot insert a closed session", ErrInvalidSession, s.ID)
	}

	var closed []Session
	_, err := r.submit(ctx, func() (Session, error) {
		if _, exists := r.idx.byID[s.ID]; exists {
			return Session{}, fmt.Errorf("%w: id %s already exists", ErrDuplicateSession, s.ID)
		}

		now := r.opts.Now()
		for id := range r.idx.byKey[s.Key] {
			closed = append(closed, tombstone(r.idx.byID[id], reason, now))
		}
		sort.Slice(closed, func(i, j int) bool {
			return closed[i].CreatedAt.Before(closed[j].CreatedAt)
		})

		// The insert leads, so a crash that keeps only part of the write
		// never leaves the key without the sessions it had.
		changes := []change{{op: OpInsert, session: s}}
		for _, prev := range closed {
			changes = append(changes, change{op: OpClose, session: prev})
		}
		if err := r.commitAll(changes); err != nil {
			closed = nil
			return Session{}, err
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func tombstone(s Session, reason CloseReason, now time.Time) Session {
	s.State = StateClosed
	s.OwnerToken = ""
	s.CloseReason = reason
	s.ClosedAt = now
	if s.ClosedAt.Before(s.LastAccessedAt) {
		s.ClosedAt = s.LastAccessedAt
	}
	return s
}

// Verify probes durability by writing a checkpoint. On success a degraded
// registry accepts mutations again.
func (r *Registry) Verify(ctx context.Context) error {
	_, err := r.submitAlways(ctx, func() (Session, error) {
		return Session{}, r.recover(ctx)
	})
	return err
}

// submit hands fn to the writer. Once accepted, the caller waits for the
// outcome even if ctx ends, so a mutation is never half-reported.
func (r *Registry) submit(ctx context.Context, fn func() (Session, error)) (Session, error) {
	return r.submitAlways(ctx, func() (Session, error) {
		if err := r.Degraded(); err != nil {
			return Session{}, fmt.Errorf("%w: %w: %v", ErrDurability, ErrDegraded, err)
		}
		return fn()
	})
}

func (r *Registry) submitAlways(ctx context.Context, fn func() (Session, error)) (Session, error) {
	j := job{run: fn, reply: make(chan result, 1)}
	select {
	case r.reqs <- j:
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case <-r.quit:
		return Session{}, ErrClosed
	}
	res := <-j.reply
	return res.session, res.err
}

package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"persistenceai/pkg/events"
	"persistenceai/pkg/lock"
	"persistenceai/pkg/logger"
	"persistenceai/pkg/pathkey"
	"persistenceai/pkg/registry"
)

const instrumentationName = "persistenceai/session"

// ConflictPolicy decides what CreateSession does when the directory already
// has a live session.
type ConflictPolicy string

const (
	PolicyAttach ConflictPolicy = "attach"
	PolicyReject ConflictPolicy = "reject"
)

// IDPolicy selects how session ids are generated.
type IDPolicy string

const (
	IDPolicyUUID   IDPolicy = "uuid"
	IDPolicyUUIDv7 IDPolicy = "uuidv7"
)

type Config struct {
	LockTTL        time.Duration
	LockWait       time.Duration
	ConflictPolicy ConflictPolicy
	IDPolicy       IDPolicy
}

func (c Config) validate() error {
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock ttl must be positive, got %s", c.LockTTL)
	}
	if c.LockWait < 0 {
		return fmt.Errorf("lock wait must not be negative, got %s", c.LockWait)
	}
	switch c.ConflictPolicy {
	case PolicyAttach, PolicyReject:
	default:
		return fmt.Errorf("unknown conflict policy %q", c.ConflictPolicy)
	}
	return nil
}

// Result is the outcome of CreateSession.
type Result struct {
	Session  registry.Session
	Attached bool
}

// Controller owns the session lifecycle: Created → Active → {Idle ⇄ Active} → Closed.
// Every transition on a key runs under that key's mutex, so the lock table
// and the registry move together.
type Controller struct {
	normalizer *pathkey.Normalizer
	registry   *registry.Registry
	locks      lock.Manager
	cfg        Config

	publisher events.Publisher
	logger    logger.Logger
	now       func() time.Time
	newID     func() (string, error)
	keyLocks  *keyLockMap
	tracer    trace.Tracer
	metrics   *metrics
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(c *Controller) {
		c.publisher = p
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

func NewController(n *pathkey.Normalizer, reg *registry.Registry, locks lock.Manager, cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	newID, err := idGenerator(cfg.IDPolicy)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		normalizer: n,
		registry:   reg,
		locks:      locks,
		cfg:        cfg,
		publisher:  events.Nop{},
		logger:     logger.Nop{},
		now:        time.Now,
		newID:      newID,
		keyLocks:   newKeyLockMap(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.metrics, err = newMetrics(otel.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("session metrics: %w", err)
	}
	return c, nil
}

func idGenerator(p IDPolicy) (func() (string, error), error) {
	switch p {
	case IDPolicyUUID, "":
		return func() (string, error) {
			return uuid.NewString(), nil
		}, nil
	case IDPolicyUUIDv7:
		return func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown session id policy %q", p)
	}
}

// CreateSession binds a new Active session to the directory at rawPath. If
// the directory already has a live session, the conflict policy either
// attaches to it or fails with lock.ErrLockHeld. Otherwise the directory lock
// is acquired first; only then are previous sessions on the key closed as
// superseded, in the same durable write that inserts the new one.
func (c *Controller) CreateSession(ctx context.Context, rawPath string) (res Result, err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "session.create")
	defer func() {
		c.finish(ctx, span, "create", err)
		c.metrics.createLatency.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.Bool("attached", res.Attached)))
	}()

	key, err := c.normalizer.Normalize(rawPath)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("session.key_digest", key.Digest()))

	unlock := c.keyLocks.lock(key)
	defer unlock()

	if existing, ok := c.registry.Lookup(key); ok {
		live, err := c.holdsLock(ctx, existing)
		if err != nil {
			return Result{}, err
		}
		if live {
			if c.cfg.ConflictPolicy == PolicyAttach {
				c.metrics.recordTransition(ctx, "attached")
				return Result{Session: existing, Attached: true}, nil
			}
			return Result{}, fmt.Errorf("%w: %s has active session %s", lock.ErrLockHeld, key, existing.ID)
		}
	}

	token, err := lock.AcquireWait(ctx, c.locks, key.Digest(), lock.Exclusive, c.cfg.LockTTL, c.cfg.LockWait)
	if err != nil {
		return Result{}, err
	}

	id, err := c.newID()
	if err != nil {
		c.release(ctx, token)
		return Result{}, fmt.Errorf("generate session id: %w", err)
	}
	s, err := registry.NewSession(id, key, string(token), c.now())
	if err != nil {
		c.release(ctx, token)
		return Result{}, err
	}
	replaced, err := c.registry.Replace(ctx, s, registry.ReasonSuperseded)
	if err != nil {
		// No record, no lock.
		c.release(ctx, token)
		return Result{}, err
	}
	for _, prev := range replaced {
		c.superseded(ctx, prev)
	}

	span.SetAttributes(attribute.String("session.id", s.ID))
	c.metrics.recordTransition(ctx, "created")
	c.publish(ctx, events.SessionCreated, s)
	c.logger.Info(ctx, "session created",
		logger.Field{Key: "session_id", Value: s.ID},
		logger.Field{Key: "directory", Value: key.String()},
	)
	return Result{Session: s}, nil
}

// superseded reports a session closed in favour of a newer one. Its token
// lapsed before ours was granted, so there is nothing to release.
func (c *Controller) superseded(ctx context.Context, closed registry.Session) {
	c.metrics.recordTransition(ctx, "superseded")
	c.publish(ctx, events.SessionClosed, closed)
	c.logger.Info(ctx, "session superseded", logger.Field{Key: "session_id", Value: closed.ID})
}

func (c *Controller) holdsLock(ctx context.Context, s registry.Session) (bool, error) {
	if s.State != registry.StateActive || s.OwnerToken == "" {
		return false, nil
	}
	return c.locks.Valid(ctx, lock.Token(s.OwnerToken))
}

// Touch renews the session's lock and advances its last access time. A
// session whose lock lapsed is demoted to Idle and lock.ErrTokenExpired is
// returned; Resume re-acquires it.
func (c *Controller) Touch(ctx context.Context, id string) (s registry.Session, err error) {
	ctx, span := c.tracer.Start(ctx, "session.touch", trace.WithAttributes(attribute.String("session.id", id)))
	defer func() { c.finish(ctx, span, "touch", err) }()

	s, unlock, err := c.lockSession(id)
	if err != nil {
		return registry.Session{}, err
	}
	defer unlock()

	if s.Closed() {
		return registry.Session{}, fmt.Errorf("%w: %s", registry.ErrStaleState, id)
	}
	if s.State != registry.StateActive || s.OwnerToken == "" {
		return registry.Session{}, fmt.Errorf("%w: session %s is idle", lock.ErrTokenExpired, id)
	}

	if err := c.locks.Renew(ctx, lock.Token(s.OwnerToken), c.cfg.LockTTL); err != nil {
		if errors.Is(err, lock.ErrTokenExpired) {
			c.demote(ctx, s)
		}
		return registry.Session{}, err
	}

	s, err = c.registry.Update(ctx, id, func(s *registry.Session) error {
		s.LastAccessedAt = c.now()
		return nil
	})
	if err != nil {
		return registry.Session{}, err
	}

	c.metrics.recordTransition(ctx, "touched")
	c.publish(ctx, events.SessionTouched, s)
	return s, nil
}

func (c *Controller) demote(ctx context.Context, s registry.Session) {
	_, err := c.registry.Update(ctx, s.ID, func(s *registry.Session) error {
		s.State = registry.StateIdle
		s.OwnerToken = ""
		return nil
	})
	if err != nil {
		c.logger.Warn(ctx, "demote session with lapsed lock", logger.Err(err), logger.Field{Key: "session_id", Value: s.ID})
		return
	}
	c.metrics.recordTransition(ctx, "demoted")
}

// Resume re-acquires the directory lock for an Idle session and makes it
// Active again. Resuming a session that is already Active and live returns
// it unchanged.
func (c *Controller) Resume(ctx context.Context, id string) (s registry.Session, err error) {
	ctx, span := c.tracer.Start(ctx, "session.resume", trace.WithAttributes(attribute.String("session.id", id)))
	defer func() { c.finish(ctx, span, "resume", err) }()

	s, unlock, err := c.lockSession(id)
	if err != nil {
		return registry.Session{}, err
	}
	defer unlock()

	if s.Closed() {
		return registry.Session{}, fmt.Errorf("%w: %s", registry.ErrStaleState, id)
	}
	live, err := c.holdsLock(ctx, s)
	if err != nil {
		return registry.Session{}, err
	}
	if live {
		return s, nil
	}

	var lapsed *registry.Session
	if other, ok := c.registry.Lookup(s.Key); ok && other.ID != s.ID && other.State == registry.StateActive {
		otherLive, err := c.holdsLock(ctx, other)
		if err != nil {
			return registry.Session{}, err
		}
		if otherLive {
			return registry.Session{}, fmt.Errorf("%w: %s has active session %s", lock.ErrLockHeld, s.Key, other.ID)
		}
		lapsed = &other
	}

	token, err := lock.AcquireWait(ctx, c.locks, s.Key.Digest(), lock.Exclusive, c.cfg.LockTTL, c.cfg.LockWait)
	if err != nil {
		return registry.Session{}, err
	}
	previous := lock.Token(s.OwnerToken)

	// The Active sibling lost its lock; with ours held it can be closed.
	if lapsed != nil {
		closed, err := c.registry.Remove(ctx, lapsed.ID, registry.ReasonSuperseded)
		if err != nil {
			c.release(ctx, token)
			return registry.Session{}, err
		}
		c.superseded(ctx, closed)
	}

	s, err = c.registry.Update(ctx, id, func(s *registry.Session) error {
		s.State = registry.StateActive
		s.OwnerToken = string(token)
		s.LastAccessedAt = c.now()
		return nil
	})
	if err != nil {
		c.release(ctx, token)
		return registry.Session{}, err
	}
	c.release(ctx, previous)

	c.metrics.recordTransition(ctx, "resumed")
	c.publish(ctx, events.SessionResumed, s)
	c.logger.Info(ctx, "session resumed", logger.Field{Key: "session_id", Value: id})
	return s, nil
}

// CloseSession marks the session Closed and releases its lock. Closing an
// already closed session returns the tombstone without error.
func (c *Controller) CloseSession(ctx context.Context, id string) (s registry.Session, err error) {
	ctx, span := c.tracer.Start(ctx, "session.close", trace.WithAttributes(attribute.String("session.id", id)))
	defer func() { c.finish(ctx, span, "close", err) }()

	s, unlock, err := c.lockSession(id)
	if err != nil {
		return registry.Session{}, err
	}
	defer unlock()

	if s.Closed() {
		return s, nil
	}

	closed, err := c.registry.Remove(ctx, id, registry.ReasonClosed)
	if err != nil {
		return registry.Session{}, err
	}
	c.release(ctx, lock.Token(s.OwnerToken))

	c.metrics.recordTransition(ctx, "closed")
	c.publish(ctx, events.SessionClosed, closed)
	c.logger.Info(ctx, "session closed", logger.Field{Key: "session_id", Value: id})
	return closed, nil
}

// Evict closes a session that has been idle for at least idleTimeout. It is
// meant for the Reaper only. Idleness is re-checked under the key mutex. An
// Active session also needs an exclusive directory lock first, so a
// concurrent Touch either lands first (ErrNotIdle) or keeps the lock
// (lock.ErrLockHeld). An Idle session holds no lock and can be evicted while
// a sibling on the same key is live.
func (c *Controller) Evict(ctx context.Context, id string, idleTimeout time.Duration) (err error) {
	ctx, span := c.tracer.Start(ctx, "session.evict", trace.WithAttributes(attribute.String("session.id", id)))
	defer func() { c.finish(ctx, span, "evict", err) }()

	s, unlock, err := c.lockSession(id)
	if err != nil {
		return err
	}
	defer unlock()

	if s.Closed() {
		return fmt.Errorf("%w: %s", registry.ErrStaleState, id)
	}

	if s.State == registry.StateActive {
		evictToken, err := c.locks.Acquire(ctx, s.Key.Digest(), lock.Exclusive, c.cfg.LockTTL)
		if err != nil {
			return err
		}
		defer c.release(ctx, evictToken)
	}

	s, err = c.registry.Get(id)
	if err != nil {
		return err
	}
	if s.Closed() {
		return fmt.Errorf("%w: %s", registry.ErrStaleState, id)
	}
	if cutoff := c.now().Add(-idleTimeout); !s.LastAccessedAt.Before(cutoff) {
		return fmt.Errorf("%w: %s last used %s", ErrNotIdle, id, s.LastAccessedAt.Format(time.RFC3339))
	}

	closed, err := c.registry.Remove(ctx, id, registry.ReasonEvicted)
	if err != nil {
		return err
	}
	c.release(ctx, lock.Token(s.OwnerToken))

	c.metrics.recordTransition(ctx, "evicted")
	c.publish(ctx, events.SessionEvicted, closed)
	c.logger.Info(ctx, "session evicted",
		logger.Field{Key: "session_id", Value: id},
		logger.Field{Key: "last_accessed_at", Value: s.LastAccessedAt},
	)
	return nil
}

// IdleCandidates lists sessions not used within idleTimeout, oldest first.
func (c *Controller) IdleCandidates(idleTimeout time.Duration) iter.Seq[registry.Session] {
	return c.registry.ScanIdle(c.now().Add(-idleTimeout))
}

func (c *Controller) Get(_ context.Context, id string) (registry.Session, error) {
	return c.registry.Get(id)
}

func (c *Controller) List(_ context.Context) []registry.Session {
	return c.registry.List()
}

// lockSession takes the key mutex of session id and returns the session as
// read under it.
func (c *Controller) lockSession(id string) (registry.Session, func(), error) {
	s, err := c.registry.Get(id)
	if err != nil {
		return registry.Session{}, nil, err
	}

	unlock := c.keyLocks.lock(s.Key)
	s, err = c.registry.Get(id)
	if err != nil {
		unlock()
		return registry.Session{}, nil, err
	}
	return s, unlock, nil
}

// release drops a lock token even when ctx is already canceled.
func (c *Controller) release(ctx context.Context, token lock.Token) {
	if token == "" {
		return
	}
	if err := c.locks.Release(context.WithoutCancel(ctx), token); err != nil {
		c.logger.Warn(ctx, "release directory lock", logger.Err(err))
	}
}

func (c *Controller) publish(ctx context.Context, typ events.Type, s registry.Session) {
	ev := events.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		SessionID:  s.ID,
		Directory:  s.Key.String(),
		KeyDigest:  s.Key.Digest(),
		State:      string(s.State),
		Reason:     string(s.CloseReason),
		OccurredAt: c.now(),
	}
	if err := c.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Warn(ctx, "publish lifecycle event",
			logger.Err(err),
			logger.Field{Key: "event_type", Value: string(typ)},
			logger.Field{Key: "session_id", Value: s.ID},
		)
	}
}

func (c *Controller) finish(ctx context.Context, span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", errorKind(err)))
		c.metrics.recordFailure(ctx, op, err)
	}
	span.End()
}

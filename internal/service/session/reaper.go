package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"persistenceai/pkg/lock"
	"persistenceai/pkg/logger"
	"persistenceai/pkg/registry"
)

// Reaper periodically evicts sessions idle for longer than idleTimeout. It
// goes through the Controller only.
type Reaper struct {
	controller  *Controller
	interval    time.Duration
	idleTimeout time.Duration
	logger      logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// RunStats summarizes one reaper pass.
type RunStats struct {
	Scanned int
	Evicted int
	Skipped int
	Failed  int
}

func NewReaper(c *Controller, interval, idleTimeout time.Duration, l logger.Logger) *Reaper {
	if l == nil {
		l = logger.Nop{}
	}
	return &Reaper{
		controller:  c,
		interval:    interval,
		idleTimeout: idleTimeout,
		logger:      l,
	}
}

// Start launches the background loop. Calling Start on a running reaper is a
// no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)

	r.logger.Info(ctx, "reaper started",
		logger.Field{Key: "interval", Value: r.interval.String()},
		logger.Field{Key: "idle_timeout", Value: r.idleTimeout.String()},
	)
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Reaper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass over the idle candidates.
func (r *Reaper) RunOnce(ctx context.Context) RunStats {
	var stats RunStats
	m := r.controller.metrics

	for s := range r.controller.IdleCandidates(r.idleTimeout) {
		if ctx.Err() != nil {
			break
		}
		stats.Scanned++

		err := r.controller.Evict(ctx, s.ID, r.idleTimeout)
		switch {
		case err == nil:
			stats.Evicted++
		case benignEviction(err):
			stats.Skipped++
			m.reaperSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", errorKind(err))))
			r.logger.Debug(ctx, "reaper skipped session",
				logger.Field{Key: "session_id", Value: s.ID},
				logger.Field{Key: "reason", Value: errorKind(err)},
			)
		default:
			stats.Failed++
			m.reaperFailures.Add(ctx, 1)
			r.logger.Error(ctx, "reaper eviction failed", logger.Err(err), logger.Field{Key: "session_id", Value: s.ID})
		}
	}

	m.reaperRuns.Add(ctx, 1)
	if stats.Evicted > 0 || stats.Failed > 0 {
		r.logger.Info(ctx, "reaper pass",
			logger.Field{Key: "scanned", Value: stats.Scanned},
			logger.Field{Key: "evicted", Value: stats.Evicted},
			logger.Field{Key: "skipped", Value: stats.Skipped},
			logger.Field{Key: "failed", Value: stats.Failed},
		)
	}
	return stats
}

// benignEviction reports outcomes that mean the session is in use or already
// gone.
func benignEviction(err error) bool {
	return errors.Is(err, lock.ErrLockHeld) ||
		errors.Is(err, ErrNotIdle) ||
		errors.Is(err, registry.ErrNotFound) ||
		errors.Is(err, registry.ErrStaleState)
}

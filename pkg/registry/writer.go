package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"

	"persistenceai/pkg/logger"
)

func (r *Registry) run() {
	defer close(r.done)
	for {
		select {
		case j := <-r.reqs:
			s, err := j.run()
			j.reply <- result{session: s, err: err}
		case <-r.quit:
			return
		}
	}
}

type change struct {
	op      Op
	session Session
}

// commit makes one record durable, then publishes it to readers.
func (r *Registry) commit(op Op, s Session) error {
	return r.commitAll([]change{{op: op, session: s}})
}

// commitAll writes the records of every change with a single write and sync,
// so a failed append publishes none of them.
func (r *Registry) commitAll(changes []change) error {
	var (
		buf []byte
		seq = r.idx.seq
	)
	for _, c := range changes {
		seq++
		line, err := encodeRecord(record{Seq: seq, Op: c.op, Session: c.session})
		if err != nil {
			return err
		}
		buf = append(buf, line...)
	}

	if err := r.appendLine(buf); err != nil {
		r.degrade(err)
		first := changes[0]
		return fmt.Errorf("%w: append %s %s: %v", ErrDurability, first.op, first.session.ID, err)
	}

	r.mu.Lock()
	for _, c := range changes {
		r.idx.put(c.session)
	}
	r.idx.seq = seq
	r.mu.Unlock()

	r.sinceCompact += len(changes)
	if r.sinceCompact >= r.opts.CompactEvery {
		if err := r.checkpoint(); err != nil {
			// The records themselves are durable in the log.
			r.degrade(err)
		}
	}
	return nil
}

func (r *Registry) appendLine(line []byte) error {
	_, err := r.wal.Write(line)
	if err == nil {
		err = r.wal.Sync()
	}
	if err != nil {
		// Drop whatever part of the record reached the file.
		if terr := r.wal.Truncate(r.walSize); terr != nil {
			return fmt.Errorf("%v (rollback: %v)", err, terr)
		}
		return err
	}
	r.walSize += int64(len(line))
	return nil
}

// checkpoint writes the snapshot and truncates the log. A crash between the
// two leaves records the snapshot already covers; replay skips them by seq.
func (r *Registry) checkpoint() error {
	now := r.opts.Now()

	if r.opts.TombstoneRetention > 0 {
		horizon := now.Add(-r.opts.TombstoneRetention)
		r.mu.Lock()
		for id, s := range r.idx.byID {
			if s.Closed() && s.ClosedAt.Before(horizon) {
				r.idx.drop(id)
			}
		}
		r.mu.Unlock()
	}

	data, err := encodeSnapshot(r.idx, now)
	if err != nil {
		return err
	}
	if err := r.opts.writeFile(filepath.Join(r.dir, snapshotFileName), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := r.wal.Truncate(0); err != nil {
		return fmt.Errorf("truncate log: %w", err)
	}
	if err := r.wal.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	r.walSize = 0
	r.sinceCompact = 0
	return nil
}

func (r *Registry) degrade(cause error) {
	if r.degraded.CompareAndSwap(nil, &cause) {
		r.log.Error(context.Background(), "registry degraded, mutations halted",
			logger.Err(cause),
			logger.Field{Key: "dir", Value: r.dir},
		)
	}
}

func (r *Registry) recover(ctx context.Context) error {
	if r.Degraded() == nil {
		return nil
	}

	err := retry.Do(
		r.checkpoint,
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%w: %w: %v", ErrDurability, ErrDegraded, err)
	}

	r.degraded.Store(nil)
	r.log.Info(ctx, "registry durability restored", logger.Field{Key: "dir", Value: r.dir})
	return nil
}

package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
)

// DispatcherConfig tunes the polling loop.
type DispatcherConfig struct {
	Interval  time.Duration // default 2s
	BatchSize int           // default 10
}

// Dispatcher polls the outbox and publishes claimed events through the
// registry. Overlapping ticks are skipped, not queued: a busy flag guards
// single-flight within this process. Running multiple dispatcher processes
// is only safe against the postgres backend (see the sqlite backend doc).
type Dispatcher struct {
	db    *sql.DB
	store Store
	reg   *Registry
	cfg   DispatcherConfig
	log   logx.Logger

	busy atomic.Bool

	// unknownEvents counts events marked processed because no handler type
	// was registered. A non-zero value after a deploy usually means a handler
	// was added without being wired.
	unknownEvents atomic.Uint64
}

func NewDispatcher(db *sql.DB, store Store, reg *Registry, cfg DispatcherConfig, log logx.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{db: db, store: store, reg: reg, cfg: cfg, log: log}
}

// Start runs the polling loop until ctx is cancelled. Tick failures are
// logged and retried on the next interval; the dispatcher never terminates
// the process.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.log.Info("outbox dispatcher started",
		logx.Duration("interval", d.cfg.Interval), logx.Int("batch", d.cfg.BatchSize))

	for {
		select {
		case <-ctx.Done():
			d.log.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if !d.busy.CompareAndSwap(false, true) {
				d.log.Debug("dispatch tick skipped; previous tick still running")
				continue
			}
			if err := d.Tick(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn("dispatch tick failed", logx.Err(err))
			}
			d.busy.Store(false)
		}
	}
}

// Tick claims one batch, publishes each event, and marks the delivered ones
// processed in the same transaction as the claim.
func (d *Dispatcher) Tick(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	events, err := d.store.ClaimBatch(ctx, tx, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("claim batch: %w", err)
	}
	if len(events) == 0 {
		return tx.Commit()
	}
	d.log.Debug("claimed outbox events", logx.Int("count", len(events)))

	var done []uuid.UUID
	for _, e := range events {
		if !d.reg.Known(e.Type) {
			// Deliberate policy: mark unknown types processed instead of
			// poison-looping. Loud log + counter so it can't hide a handler
			// that was added but never registered.
			n := d.unknownEvents.Add(1)
			d.log.Warn("unrecognized event type; marking processed to avoid poison loop",
				logx.String("event_type", e.Type),
				logx.String("event_id", e.ID.String()),
				logx.Int64("unknown_total", int64(n)))
			done = append(done, e.ID)
			continue
		}
		if err := d.reg.Publish(ctx, e); err != nil {
			// Stays claimed; retried after the lock timeout on a later tick.
			d.log.Warn("event not fully delivered; will retry",
				logx.String("event_id", e.ID.String()), logx.Err(err))
			continue
		}
		done = append(done, e.ID)
	}

	if len(done) > 0 {
		if err := d.store.MarkProcessed(ctx, tx, done); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if len(done) > 0 {
		d.log.Info("outbox events dispatched",
			logx.Int("delivered", len(done)), logx.Int("claimed", len(events)))
	}
	return nil
}

// UnknownEvents reports how many events were discarded for having no
// registered handler type since startup.
func (d *Dispatcher) UnknownEvents() uint64 { return d.unknownEvents.Load() }

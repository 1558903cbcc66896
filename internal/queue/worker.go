package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
)

// maxAttempts is the dead-letter ceiling: a job that has consumed this many
// delivery attempts without succeeding becomes FAILED and stays that way.
const maxAttempts = 3

// Deliver processes one job payload. A nil return marks the job DONE.
type Deliver func(ctx context.Context, job Job) error

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

func (c *WorkerConfig) normalize() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
}

// Worker polls for pending jobs and hands them to a Deliver func. A single
// busy flag skips overlapping ticks when a batch runs long.
type Worker struct {
	store   *Store
	deliver Deliver
	cfg     WorkerConfig
	log     logx.Logger
	busy    atomic.Bool
}

func NewWorker(store *Store, deliver Deliver, cfg WorkerConfig, log logx.Logger) *Worker {
	cfg.normalize()
	return &Worker{store: store, deliver: deliver, cfg: cfg, log: log}
}

// Start blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	t := time.NewTicker(w.cfg.Interval)
	defer t.Stop()
	w.log.Info("queue worker started", logx.Duration("interval", w.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("queue worker stopped")
			return
		case <-t.C:
			if !w.busy.CompareAndSwap(false, true) {
				continue
			}
			w.Tick(ctx)
			w.busy.Store(false)
		}
	}
}

// Tick runs one find-pending pass. Exported so tests and the startup drain
// can drive it directly.
func (w *Worker) Tick(ctx context.Context) {
	jobs, err := w.store.Pending(ctx, w.cfg.BatchSize)
	if err != nil {
		w.log.Error("list pending jobs", logx.Err(err))
		return
	}
	for _, job := range jobs {
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	attempts, err := w.store.BumpAttempts(ctx, job.ID)
	if err != nil {
		w.log.Error("bump job attempts", logx.String("job", job.ID.String()), logx.Err(err))
		return
	}
	job.Attempts = attempts

	if err := w.deliver(ctx, job); err != nil {
		w.log.Warn("job delivery failed",
			logx.String("job", job.ID.String()),
			logx.Int("attempts", attempts),
			logx.Err(err))
		if attempts >= maxAttempts {
			if err := w.store.MarkFailed(ctx, job.ID); err != nil {
				w.log.Error("dead-letter job", logx.String("job", job.ID.String()), logx.Err(err))
				return
			}
			w.log.Error("job dead-lettered", logx.String("job", job.ID.String()), logx.Int("attempts", attempts))
		}
		return
	}

	if err := w.store.MarkDone(ctx, job.ID); err != nil {
		w.log.Error("mark job done", logx.String("job", job.ID.String()), logx.Err(err))
	}
}

// Package sqlite is the outbox backend for the embedded database.
//
// SQLite has no row-level locking, so claiming is an atomic status flip:
// PENDING rows, plus PROCESSING rows whose lock is older than the timeout
// (crash recovery), become PROCESSING and are returned. The flip happens in a
// single UPDATE, so two concurrent claimers can never receive the same row.
//
// Running more than one dispatcher process against this backend is unsafe
// and must be avoided; use the postgres backend for multi-process setups.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/outbox"
)

const (
	statusPending    = "PENDING"
	statusProcessing = "PROCESSING"

	// DefaultLockTimeout is how long a claimed row stays invisible before a
	// crashed worker's claim is considered abandoned.
	DefaultLockTimeout = 5 * time.Minute
)

type Store struct {
	lockTimeout time.Duration
	now         func() time.Time
}

// Option tweaks the store; used by tests to control the clock.
type Option func(*Store)

func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{lockTimeout: DefaultLockTimeout, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ outbox.Store = (*Store)(nil)

func (s *Store) Save(ctx context.Context, tx *sql.Tx, e *outbox.Event) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_events(id, aggregate_id, event_type, payload, occurred_at, status)
		 VALUES(?,?,?,?,?,?)`,
		e.ID.String(), e.AggregateID, e.Type, string(e.Payload), e.OccurredAt.UnixMilli(), statusPending,
	)
	if err != nil {
		return fmt.Errorf("save outbox event: %w", err)
	}
	return nil
}

func (s *Store) ClaimBatch(ctx context.Context, tx *sql.Tx, limit int) ([]outbox.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.now()
	stale := now.Add(-s.lockTimeout).UnixMilli()

	rows, err := tx.QueryContext(ctx,
		`UPDATE outbox_events SET status = ?, locked_at = ?
		 WHERE id IN (
		     SELECT id FROM outbox_events
		     WHERE processed_at IS NULL
		       AND (status = ? OR (status = ? AND locked_at < ?))
		     ORDER BY occurred_at
		     LIMIT ?
		 )
		 RETURNING id, aggregate_id, event_type, payload, occurred_at`,
		statusProcessing, now.UnixMilli(),
		statusPending, statusProcessing, stale, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var out []outbox.Event
	for rows.Next() {
		var (
			e       outbox.Event
			id      string
			payload string
			ms      int64
		)
		if err := rows.Scan(&id, &e.AggregateID, &e.Type, &payload, &ms); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid event id in outbox row: %w", err)
		}
		e.ID = parsed
		e.Payload = []byte(payload)
		e.OccurredAt = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING hands rows back in rowid order, not in the subquery's
	// ORDER BY, so restore creation order here.
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func (s *Store) MarkProcessed(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.now().UnixMilli())
	ph := make([]string, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args = append(args, id.String())
	}
	// processed_at IS NULL keeps this idempotent: a second call is a no-op.
	_, err := tx.ExecContext(ctx,
		`UPDATE outbox_events SET processed_at = ? WHERE id IN (`+strings.Join(ph, ",")+`) AND processed_at IS NULL`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// Package postgres is the outbox backend for PostgreSQL.
//
// Claiming relies on native row locking: unprocessed rows are selected in
// creation order with FOR UPDATE SKIP LOCKED, so concurrent transactions
// (including dispatchers in other processes) skip each other's rows instead
// of blocking or double-claiming. A crashed worker's locks vanish with its
// connection, so no explicit lock timeout is needed.
//
// The database handle is expected to use the pgx stdlib driver
// (jackc/pgx/v5/stdlib), which keeps the Store contract on database/sql.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/outbox"
)

type Store struct{}

func New() *Store { return &Store{} }

var _ outbox.Store = (*Store)(nil)

// Migrate applies the outbox schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS outbox_events (
    id           TEXT PRIMARY KEY,
    aggregate_id TEXT NOT NULL,
    event_type   TEXT NOT NULL,
    payload      JSONB NOT NULL,
    occurred_at  TIMESTAMPTZ NOT NULL,
    processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_unprocessed
    ON outbox_events(occurred_at) WHERE processed_at IS NULL;

CREATE TABLE IF NOT EXISTS mappings (
    username   TEXT NOT NULL,
    channel_id BIGINT NOT NULL,
    role_id    TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (username, channel_id)
);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate outbox schema: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, tx *sql.Tx, e *outbox.Event) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_events(id, aggregate_id, event_type, payload, occurred_at)
		 VALUES($1,$2,$3,$4,$5)`,
		e.ID.String(), e.AggregateID, e.Type, string(e.Payload), e.OccurredAt,
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
	rows, err := tx.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload, occurred_at
		 FROM outbox_events
		 WHERE processed_at IS NULL
		 ORDER BY occurred_at
		 FOR UPDATE SKIP LOCKED
		 LIMIT $1`,
		limit,
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
			payload []byte
			at      time.Time
		)
		if err := rows.Scan(&id, &e.AggregateID, &e.Type, &payload, &at); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid event id in outbox row: %w", err)
		}
		e.ID = parsed
		e.Payload = payload
		e.OccurredAt = at.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkProcessed(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids))
	ph := make([]string, len(ids))
	for i, id := range ids {
		ph[i] = "$" + strconv.Itoa(i+1)
		args = append(args, id.String())
	}
	// processed_at IS NULL keeps this idempotent: a second call is a no-op.
	_, err := tx.ExecContext(ctx,
		`UPDATE outbox_events SET processed_at = now() WHERE id IN (`+strings.Join(ph, ",")+`) AND processed_at IS NULL`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

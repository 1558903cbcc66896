// Package queue is the secondary delivery path: a simple durable job queue
// with bounded retries and terminal dead-lettering.
//
// Unlike the outbox it has no claim/lease contract: the worker does a plain
// "find pending, process" pass. Two worker processes could pick up the same
// job, which is acceptable because this path is reserved for single-process
// deployments and its deliveries are idempotent anyway.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

// Job is one durable delivery attempt record. Once Status is DONE or FAILED
// the record is terminal and never reprocessed; rows are kept for audit.
type Job struct {
	ID        uuid.UUID
	Payload   json.RawMessage
	Attempts  int
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists jobs in the embedded database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Enqueue(ctx context.Context, payload any) (*Job, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	j := &Job{
		ID:        uuid.New(),
		Payload:   b,
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
	}
	j.UpdatedAt = j.CreatedAt
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO queue_jobs(id, payload, attempts, status, created_at, updated_at)
		 VALUES(?,?,0,?,?,?)`,
		j.ID.String(), string(b), string(j.Status), j.CreatedAt.UnixMilli(), j.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return j, nil
}

// Pending returns up to limit PENDING jobs, oldest first. Terminal jobs are
// excluded by construction.
func (s *Store) Pending(ctx context.Context, limit int) ([]Job, error) {
	return s.byStatus(ctx, StatusPending, limit)
}

// Failed returns dead-lettered jobs for operator inspection.
func (s *Store) Failed(ctx context.Context, limit int) ([]Job, error) {
	return s.byStatus(ctx, StatusFailed, limit)
}

func (s *Store) byStatus(ctx context.Context, st Status, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, attempts, status, created_at, updated_at
		 FROM queue_jobs WHERE status = ? ORDER BY created_at LIMIT ?`,
		string(st), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", st, err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var (
			j             Job
			id, payload   string
			status        string
			createdMillis int64
			updatedMillis int64
		)
		if err := rows.Scan(&id, &payload, &j.Attempts, &status, &createdMillis, &updatedMillis); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid job id: %w", err)
		}
		j.ID = parsed
		j.Payload = []byte(payload)
		j.Status = Status(status)
		j.CreatedAt = time.UnixMilli(createdMillis).UTC()
		j.UpdatedAt = time.UnixMilli(updatedMillis).UTC()
		out = append(out, j)
	}
	return out, rows.Err()
}

// BumpAttempts increments the attempt counter before a delivery try and
// returns the new count, so a crash mid-delivery still burns the attempt.
func (s *Store) BumpAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_jobs SET attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		s.now().UTC().UnixMilli(), id.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("bump attempts: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT attempts FROM queue_jobs WHERE id = ?`, id.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("read attempts: %w", err)
	}
	return n, nil
}

func (s *Store) MarkDone(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, StatusDone)
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, StatusFailed)
}

func (s *Store) setStatus(ctx context.Context, id uuid.UUID, st Status) error {
	// Guard so a terminal job can never transition again.
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(st), s.now().UTC().UnixMilli(), id.String(), string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("mark job %s: %w", st, err)
	}
	return nil
}

// Package storetest is a backend-agnostic property suite for outbox.Store
// implementations. RunSuite holds the properties every backend must satisfy.
// The backends differ in how long a claim lasts: the sqlite status flip
// survives commit until the lock timeout, while postgres row locks end with
// the claiming transaction. Lease-only properties live in RunLeaseSuite and
// are run by the sqlite backend alone; cross-transaction exclusion is
// exercised in each backend's own tests, where concurrent transactions can
// be arranged the way that backend allows.
package storetest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/outbox"
)

// Factory returns a fresh database with the backend's schema applied and the
// store under test. The suite owns neither; register cleanup via t.Cleanup.
type Factory func(t *testing.T) (*sql.DB, outbox.Store)

func RunSuite(t *testing.T, open Factory) {
	t.Run("SaveThenClaimReturnsEvent", func(t *testing.T) { testSaveThenClaim(t, open) })
	t.Run("RollbackDiscardsSavedEvent", func(t *testing.T) { testRollbackAtomicity(t, open) })
	t.Run("MarkProcessedIsIdempotent", func(t *testing.T) { testMarkProcessedIdempotent(t, open) })
	t.Run("ClaimOrderFollowsCreation", func(t *testing.T) { testClaimOrder(t, open) })
}

// RunLeaseSuite holds properties of leasing backends, where a claim persists
// past the claiming transaction's commit until it times out or is processed.
func RunLeaseSuite(t *testing.T, open Factory) {
	t.Run("ClaimSurvivesCommit", func(t *testing.T) { testClaimExclusion(t, open) })
}

func mustEvent(t *testing.T, at time.Time) *outbox.Event {
	t.Helper()
	e, err := outbox.NewEvent("post.detected", "creator#42", map[string]string{"url": "https://example"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if !at.IsZero() {
		e.OccurredAt = at
	}
	return e
}

func save(t *testing.T, db *sql.DB, st outbox.Store, events ...*outbox.Event) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, e := range events {
		if err := st.Save(ctx, tx, e); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func claim(t *testing.T, db *sql.DB, st outbox.Store, limit int) []outbox.Event {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	events, err := st.ClaimBatch(ctx, tx, limit)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return events
}

func markProcessed(t *testing.T, db *sql.DB, st outbox.Store, ids ...uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := st.MarkProcessed(ctx, tx, ids); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func testSaveThenClaim(t *testing.T, open Factory) {
	db, st := open(t)
	e := mustEvent(t, time.Time{})
	save(t, db, st, e)

	got := claim(t, db, st, 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 claimed event, got %d", len(got))
	}
	if got[0].ID != e.ID {
		t.Fatalf("claimed wrong event: %s != %s", got[0].ID, e.ID)
	}
	if got[0].Type != e.Type || got[0].AggregateID != e.AggregateID {
		t.Fatalf("claimed event lost fields: %+v", got[0])
	}
}

func testRollbackAtomicity(t *testing.T, open Factory) {
	db, st := open(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	e := mustEvent(t, time.Time{})
	if err := st.Save(ctx, tx, e); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if got := claim(t, db, st, 10); len(got) != 0 {
		t.Fatalf("rolled-back event must be absent, got %d events", len(got))
	}
}

func testClaimExclusion(t *testing.T, open Factory) {
	db, st := open(t)
	save(t, db, st, mustEvent(t, time.Time{}), mustEvent(t, time.Time{}))

	first := claim(t, db, st, 10)
	if len(first) != 2 {
		t.Fatalf("expected 2 events in first claim, got %d", len(first))
	}
	second := claim(t, db, st, 10)
	for _, a := range first {
		for _, b := range second {
			if a.ID == b.ID {
				t.Fatalf("event %s claimed twice", a.ID)
			}
		}
	}
	if len(second) != 0 {
		t.Fatalf("expected no claimable events, got %d", len(second))
	}
}

func testMarkProcessedIdempotent(t *testing.T, open Factory) {
	db, st := open(t)
	e := mustEvent(t, time.Time{})
	save(t, db, st, e)

	claimed := claim(t, db, st, 1)
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed event, got %d", len(claimed))
	}
	markProcessed(t, db, st, e.ID)
	// Second mark is a no-op, not an error.
	markProcessed(t, db, st, e.ID)

	if got := claim(t, db, st, 10); len(got) != 0 {
		t.Fatalf("processed event must never be claimable again, got %d", len(got))
	}
}

func testClaimOrder(t *testing.T, open Factory) {
	db, st := open(t)
	base := time.Now().UTC().Add(-time.Hour)
	older := mustEvent(t, base)
	newer := mustEvent(t, base.Add(10*time.Minute))
	// Insert newest first to prove ordering comes from occurred_at.
	save(t, db, st, newer, older)

	got := claim(t, db, st, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].ID != older.ID {
		t.Fatalf("expected creation order, got %s first", got[0].ID)
	}
}

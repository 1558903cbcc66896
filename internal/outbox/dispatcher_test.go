package outbox_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/outbox"
	obsqlite "github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/outbox/sqlite"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/storage"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
)

type env struct {
	db    *sql.DB
	store outbox.Store
	reg   *outbox.Registry
	disp  *outbox.Dispatcher
	clock *time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	now := time.Now().UTC()
	st := obsqlite.New(
		obsqlite.WithLockTimeout(5*time.Minute),
		obsqlite.WithClock(func() time.Time { return now }),
	)
	reg := outbox.NewRegistry(logx.Nop())
	disp := outbox.NewDispatcher(db, st, reg, outbox.DispatcherConfig{Interval: time.Second, BatchSize: 10}, logx.Nop())
	return &env{db: db, store: st, reg: reg, disp: disp, clock: &now}
}

func (e *env) save(t *testing.T, ev *outbox.Event) {
	t.Helper()
	ctx := context.Background()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := e.store.Save(ctx, tx, ev); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func mustEvent(t *testing.T, typ string) *outbox.Event {
	t.Helper()
	ev, err := outbox.NewEvent(typ, "creator#7", map[string]string{"url": "https://example"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return ev
}

func TestTickDeliversAndMarksProcessed(t *testing.T) {
	e := newEnv(t)
	handled := 0
	e.reg.Register("post.detected", func(ctx context.Context, ev outbox.Event) error {
		handled++
		return nil
	})
	e.save(t, mustEvent(t, "post.detected"))

	if err := e.disp.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if handled != 1 {
		t.Fatalf("expected 1 handled event, got %d", handled)
	}

	// A second tick finds nothing: the event was marked processed in the
	// same transaction as the claim.
	if err := e.disp.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if handled != 1 {
		t.Fatalf("processed event redelivered: handled=%d", handled)
	}
}

func TestFailedHandlerEventIsRetriedAfterLockTimeout(t *testing.T) {
	e := newEnv(t)
	attempts := 0
	e.reg.Register("post.detected", func(ctx context.Context, ev outbox.Event) error {
		attempts++
		if attempts == 1 {
			return errors.New("channel unavailable")
		}
		return nil
	})
	e.save(t, mustEvent(t, "post.detected"))

	if err := e.disp.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected first delivery attempt, got %d", attempts)
	}

	// Still claimed: nothing happens before the lock timeout.
	if err := e.disp.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("claimed event redelivered before lock timeout")
	}

	*e.clock = e.clock.Add(5*time.Minute + time.Second)
	if err := e.disp.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected retry after lock timeout, got %d attempts", attempts)
	}
}

func TestUnknownEventTypeIsMarkedProcessed(t *testing.T) {
	e := newEnv(t)
	e.save(t, mustEvent(t, "mystery.event"))

	if err := e.disp.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := e.disp.UnknownEvents(); got != 1 {
		t.Fatalf("expected unknown counter 1, got %d", got)
	}

	// Not retried: poison messages are dead-lettered as processed.
	if err := e.disp.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := e.disp.UnknownEvents(); got != 1 {
		t.Fatalf("unknown event redelivered, counter %d", got)
	}
}

// mockStore drives the tick-failure path without a database state to match.
type mockStore struct{ mock.Mock }

func (m *mockStore) Save(ctx context.Context, tx *sql.Tx, e *outbox.Event) error {
	return m.Called(ctx, tx, e).Error(0)
}

func (m *mockStore) ClaimBatch(ctx context.Context, tx *sql.Tx, limit int) ([]outbox.Event, error) {
	args := m.Called(ctx, tx, limit)
	events, _ := args.Get(0).([]outbox.Event)
	return events, args.Error(1)
}

func (m *mockStore) MarkProcessed(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error {
	return m.Called(ctx, tx, ids).Error(0)
}

func TestTickSurfacesClaimFailure(t *testing.T) {
	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	defer db.Close()

	st := new(mockStore)
	st.On("ClaimBatch", mock.Anything, mock.Anything, 10).Return(nil, errors.New("disk is angry")).Once()

	reg := outbox.NewRegistry(logx.Nop())
	disp := outbox.NewDispatcher(db, st, reg, outbox.DispatcherConfig{BatchSize: 10}, logx.Nop())

	if err := disp.Tick(context.Background()); err == nil {
		t.Fatal("expected tick to surface the claim error")
	}
	st.AssertExpectations(t)
}

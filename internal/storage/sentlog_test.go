package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/transport"
)

func TestSentLogRecentIsNewestFirstAndScopedToChat(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	log := NewSentLog(db, 0)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i := 1; i <= 5; i++ {
		ref := transport.MessageRef{ChatID: 1, MessageID: i}
		if err := log.Append(ctx, ref, "msg", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := log.Append(ctx, transport.MessageRef{ChatID: 2, MessageID: 9}, "other chat", base); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := log.Recent(ctx, 1, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != 5 || got[1].ID != 4 || got[2].ID != 3 {
		t.Errorf("order = %d,%d,%d, want 5,4,3", got[0].ID, got[1].ID, got[2].ID)
	}
	for _, m := range got {
		if m.ChatID != 1 {
			t.Errorf("message from chat %d leaked into chat 1 history", m.ChatID)
		}
	}
}

func TestSentLogAppendIsIdempotentPerMessage(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	log := NewSentLog(db, 0)
	ctx := context.Background()

	ref := transport.MessageRef{ChatID: 1, MessageID: 7}
	if err := log.Append(ctx, ref, "first", time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Append(ctx, ref, "edited", time.Now()); err != nil {
		t.Fatalf("re-append: %v", err)
	}

	got, err := log.Recent(ctx, 1, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Text != "edited" {
		t.Errorf("text = %q, want latest write to win", got[0].Text)
	}
}

func TestSentLogPathDerivesSiblingFile(t *testing.T) {
	if got := SentLogPath("/var/lib/forwarder/forwarder.db"); got != "/var/lib/forwarder/forwarder-sent.db" {
		t.Errorf("SentLogPath = %q", got)
	}
}

// The dispatcher scans delivery history from inside an open event store
// transaction. The sent log lives in its own database, so its reads and
// writes must complete without waiting on that transaction.
func TestSentLogOperatesDuringEventStoreTransaction(t *testing.T) {
	dir := t.TempDir()
	eventPath := filepath.Join(dir, "forwarder.db")
	eventDB, err := Open(Config{Path: eventPath})
	if err != nil {
		t.Fatalf("open event db: %v", err)
	}
	defer eventDB.Close()
	sentDB, err := OpenSentLog(Config{Path: SentLogPath(eventPath)})
	if err != nil {
		t.Fatalf("open sent log db: %v", err)
	}
	defer sentDB.Close()

	ctx := context.Background()
	tx, err := eventDB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	// A write takes the event database's only connection and its write lock,
	// like a dispatcher tick does while handlers run.
	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox_events SET status = 'PROCESSING' WHERE 1 = 0`); err != nil {
		t.Fatalf("exec: %v", err)
	}

	log := NewSentLog(sentDB, 0)
	done := make(chan error, 1)
	go func() {
		if err := log.Append(ctx, transport.MessageRef{ChatID: 1, MessageID: 1}, "ref:X", time.Now()); err != nil {
			done <- err
			return
		}
		_, err := log.Recent(ctx, 1, 10)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("sent log op: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sent log blocked behind the event store transaction")
	}
}

func TestSentLogPruneDropsExpiredRows(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	log := NewSentLog(db, time.Hour)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	if err := log.Append(ctx, transport.MessageRef{ChatID: 1, MessageID: 1}, "old", old); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Append(ctx, transport.MessageRef{ChatID: 1, MessageID: 2}, "fresh", time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	got, err := log.Recent(ctx, 1, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("got %+v, want only the fresh row", got)
	}
}

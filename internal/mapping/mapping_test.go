package mapping

import (
	"context"
	"testing"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/storage"
)

func TestUpsertThenFind(t *testing.T) {
	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	store := NewStore(db, DialectSQLite, nil)
	ctx := context.Background()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Upsert(ctx, tx, Mapping{Username: "creator", ChannelID: 10, RoleID: "@fans"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := store.FindMappings(ctx, "creator")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].ChannelID != 10 || got[0].RoleID != "@fans" {
		t.Fatalf("got %+v", got)
	}
}

func TestUpsertReplacesRoleOnConflict(t *testing.T) {
	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	store := NewStore(db, DialectSQLite, nil)
	ctx := context.Background()

	for _, role := range []string{"@old", "@new"} {
		tx, err := db.Begin()
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := store.Upsert(ctx, tx, Mapping{Username: "creator", ChannelID: 10, RoleID: role}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	got, err := store.FindMappings(ctx, "creator")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want conflict to update in place", len(got))
	}
	if got[0].RoleID != "@new" {
		t.Errorf("role = %q, want @new", got[0].RoleID)
	}
}

func TestUpsertRollbackLeavesNoMapping(t *testing.T) {
	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	store := NewStore(db, DialectSQLite, nil)
	ctx := context.Background()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Upsert(ctx, tx, Mapping{Username: "creator", ChannelID: 10}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	got, err := store.FindMappings(ctx, "creator")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %+v, want nothing after rollback", got)
	}
}

func TestSanitizeUsername(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"@Charli.Damelio", "charli.damelio", true},
		{"  user_name ", "user_name", true},
		{"ab", "ab", true},
		{"a", "", false},
		{"has space", "", false},
		{"semi;colon", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, err := SanitizeUsername(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("SanitizeUsername(%q) = %q, %v; want %q", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("SanitizeUsername(%q) should fail", c.in)
		}
	}
}

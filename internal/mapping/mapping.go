// Package mapping resolves where a creator's posts should be forwarded.
//
// Mappings are owned by the admin surface (out of the delivery pipeline's
// hands); the pipeline reads them and may auto-provision a destination for an
// unmapped creator. The store speaks both SQL dialects the outbox backends
// use so mapping writes can share the outbox transaction.
package mapping

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Mapping binds a creator to one destination channel, optionally with a role
// to tag on delivery.
type Mapping struct {
	Username  string
	ChannelID int64
	RoleID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Resolver is the collaborator consumed by the use case before an event is
// created.
type Resolver interface {
	FindMappings(ctx context.Context, username string) ([]Mapping, error)
	ProvisionChannel(ctx context.Context, sanitizedName string) (int64, error)
}

// Dialect selects placeholder style for the backing database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Provisioner supplies new destination channels. The static implementation
// below answers with a fixed chat; a platform-backed one could create
// channels on demand.
type Provisioner interface {
	CreateChannel(ctx context.Context, name string) (int64, error)
}

// StaticProvisioner always provisions the configured default chat.
type StaticProvisioner struct {
	ChatID int64
}

func (p StaticProvisioner) CreateChannel(ctx context.Context, name string) (int64, error) {
	if p.ChatID == 0 {
		return 0, fmt.Errorf("no default chat configured for auto-provisioning")
	}
	return p.ChatID, nil
}

// Store reads and writes the mappings table.
type Store struct {
	db          *sql.DB
	dialect     Dialect
	provisioner Provisioner
}

func NewStore(db *sql.DB, dialect Dialect, p Provisioner) *Store {
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &Store{db: db, dialect: dialect, provisioner: p}
}

var _ Resolver = (*Store)(nil)

func (s *Store) FindMappings(ctx context.Context, username string) ([]Mapping, error) {
	q := `SELECT username, channel_id, COALESCE(role_id, ''), created_at, updated_at
	      FROM mappings WHERE username = ? ORDER BY channel_id`
	if s.dialect == DialectPostgres {
		q = strings.Replace(q, "?", "$1", 1)
	}
	rows, err := s.db.QueryContext(ctx, q, username)
	if err != nil {
		return nil, fmt.Errorf("find mappings: %w", err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var m Mapping
		var created, updated any
		if err := rows.Scan(&m.Username, &m.ChannelID, &m.RoleID, &created, &updated); err != nil {
			return nil, err
		}
		m.CreatedAt = coerceTime(created)
		m.UpdatedAt = coerceTime(updated)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ProvisionChannel(ctx context.Context, sanitizedName string) (int64, error) {
	if s.provisioner == nil {
		return 0, fmt.Errorf("no channel provisioner configured")
	}
	return s.provisioner.CreateChannel(ctx, sanitizedName)
}

// Upsert writes a mapping inside the caller's transaction. The delivery
// pipeline uses it for auto-provisioned mappings so the write commits or
// rolls back together with the outbox event.
func (s *Store) Upsert(ctx context.Context, tx *sql.Tx, m Mapping) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	var q string
	var args []any
	if s.dialect == DialectPostgres {
		q = `INSERT INTO mappings(username, channel_id, role_id, created_at, updated_at)
		     VALUES($1,$2,NULLIF($3,''),$4,$5)
		     ON CONFLICT(username, channel_id) DO UPDATE SET
		         role_id = excluded.role_id, updated_at = excluded.updated_at`
		args = []any{m.Username, m.ChannelID, m.RoleID, m.CreatedAt, m.UpdatedAt}
	} else {
		q = `INSERT INTO mappings(username, channel_id, role_id, created_at, updated_at)
		     VALUES(?,?,NULLIF(?,''),?,?)
		     ON CONFLICT(username, channel_id) DO UPDATE SET
		         role_id = excluded.role_id, updated_at = excluded.updated_at`
		args = []any{m.Username, m.ChannelID, m.RoleID, m.CreatedAt.Format(time.RFC3339Nano), m.UpdatedAt.Format(time.RFC3339Nano)}
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}
	return nil
}

var usernameRe = regexp.MustCompile(`^[a-z0-9._]{2,24}$`)

// SanitizeUsername normalizes a creator handle for lookups and channel
// names. Returns an error for handles the platform could never issue.
func SanitizeUsername(raw string) (string, error) {
	u := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "@")))
	if !usernameRe.MatchString(u) {
		return "", fmt.Errorf("invalid creator username %q", raw)
	}
	return u, nil
}

func coerceTime(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		t, _ := time.Parse(time.RFC3339Nano, x)
		return t
	case []byte:
		t, _ := time.Parse(time.RFC3339Nano, string(x))
		return t
	default:
		return time.Time{}
	}
}

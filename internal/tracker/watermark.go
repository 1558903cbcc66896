package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// WatermarkStore persists the newest post id seen per creator.
type WatermarkStore struct {
	db *sql.DB
}

func NewWatermarkStore(db *sql.DB) *WatermarkStore {
	return &WatermarkStore{db: db}
}

// Get returns "" for a creator with no watermark yet.
func (s *WatermarkStore) Get(ctx context.Context, username string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_post_id FROM creator_watermarks WHERE username = ?`, username,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get watermark: %w", err)
	}
	return id, nil
}

func (s *WatermarkStore) Set(ctx context.Context, username, postID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO creator_watermarks(username, last_post_id, updated_at)
		 VALUES(?,?,?)
		 ON CONFLICT(username) DO UPDATE SET
		     last_post_id = excluded.last_post_id, updated_at = excluded.updated_at`,
		username, postID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

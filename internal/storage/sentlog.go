package storage

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/transport"
)

// SentLog records messages the bot has sent and serves them back for history
// scans, newest first. Rows older than the retention window are pruned lazily
// every pruneEvery appends so no timer goroutine is needed.
type SentLog struct {
	db *sql.DB

	retention  time.Duration
	opCount    atomic.Uint64
	pruneEvery uint64
}

func NewSentLog(db *sql.DB, retention time.Duration) *SentLog {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &SentLog{db: db, retention: retention, pruneEvery: 200}
}

func (s *SentLog) Append(ctx context.Context, ref transport.MessageRef, text string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_log(chat_id, thread_id, message_id, text, at) VALUES(?,?,?,?,?)
		 ON CONFLICT(chat_id, message_id) DO UPDATE SET text=excluded.text, at=excluded.at`,
		ref.ChatID, ref.ThreadID, ref.MessageID, text, at.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		_ = s.prune(pctx)
		cancel()
	}
	return err
}

func (s *SentLog) Recent(ctx context.Context, chatID int64, limit int) ([]transport.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, chat_id, text, at FROM sent_log
		 WHERE chat_id = ? ORDER BY at DESC, message_id DESC LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transport.Message
	for rows.Next() {
		var m transport.Message
		var ms int64
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Text, &ms); err != nil {
			return nil, err
		}
		m.At = time.UnixMilli(ms)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SentLog) prune(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM sent_log WHERE at < ?`, cutoff)
	return err
}

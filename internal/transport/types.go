// Package transport defines the outbound messaging port.
//
// The delivery pipeline only depends on these types; the Telegram adapter
// (transport/telegram) is the one place that knows the platform API.
package transport

import (
	"context"
	"time"
)

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Message is an already-delivered channel message, as seen by a history scan.
type Message struct {
	ID     int
	ChatID int64
	Text   string // text or media caption
	At     time.Time
}

type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaPhoto MediaKind = "photo"
)

// Media is an attachment referenced by URL. Size is the byte size when known
// (from a probe), or 0 when the origin didn't report one.
type Media struct {
	Kind MediaKind
	URL  string
	Size int64
}

// Sender is the messaging platform send API the notifier talks to.
//
// RecentMessages returns up to limit of the most recent messages in the
// target chat, newest first. Platforms that cannot list history for bots may
// serve this from their own record of sent messages; an error means "history
// unavailable", which callers must treat as inconclusive rather than fatal.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, m Media, caption string, opt *SendOptions) (MessageRef, error)
	RecentMessages(ctx context.Context, to ChatTarget, limit int) ([]Message, error)

	// UploadLimit is the platform's maximum attachment size in bytes.
	UploadLimit() int64
}

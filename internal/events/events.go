// Package events declares the domain event types that travel through the
// outbox, and their payload shapes.
package events

import "fmt"

// TypePostDetected is emitted once per mapping target when a tracked creator
// publishes a new post.
const TypePostDetected = "post.detected"

// PostDetected carries everything the notifier needs to replay the delivery:
// destination, rendered media references, and creator context. The payload is
// resolved at detection time so dispatch does not re-scrape the provider.
type PostDetected struct {
	Username    string   `json:"username"`
	PostURL     string   `json:"post_url"`
	ChatID      int64    `json:"chat_id"`
	ThreadID    int      `json:"thread_id,omitempty"`
	RoleID      string   `json:"role_id,omitempty"`
	MediaKind   string   `json:"media_kind,omitempty"` // "video" | "image" | "" (no media)
	MediaURLs   []string `json:"media_urls,omitempty"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
}

// AggregateID derives the correlation key for a mapping target.
func AggregateID(username string, chatID int64) string {
	return fmt.Sprintf("%s#%d", username, chatID)
}

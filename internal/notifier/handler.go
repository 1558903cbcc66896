package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/events"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/outbox"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/transport"
)

// HandlePostDetected is the outbox handler for post.detected events. An error
// return keeps the event claimed so the dispatcher redelivers it; Notify's
// marker scan then makes the redelivery safe.
func (n *Notifier) HandlePostDetected(ctx context.Context, ev outbox.Event) error {
	var p events.PostDetected
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", ev.Type, err)
	}
	return n.Notify(ctx, Request{
		Target:        transport.ChatTarget{ChatID: p.ChatID, ThreadID: p.ThreadID},
		Text:          RenderPost(p),
		Media:         mediaFor(p),
		SourceURL:     p.PostURL,
		RoleID:        p.RoleID,
		CorrelationID: ev.ID.String(),
	})
}

// Register hooks the notifier into the event registry.
func (n *Notifier) Register(reg *outbox.Registry) {
	reg.Register(events.TypePostDetected, n.HandlePostDetected)
}

// RenderPost renders the channel message body for a detected post. The queue
// worker shares it so both delivery paths produce the same message.
func RenderPost(p events.PostDetected) string {
	author := p.Author
	if author == "" {
		author = "@" + p.Username
	}
	text := fmt.Sprintf("New post from %s", author)
	if p.Description != "" {
		text += "\n" + p.Description
	}
	if p.PostURL != "" {
		text += "\n" + p.PostURL
	}
	return text
}

func mediaFor(p events.PostDetected) *transport.Media {
	if len(p.MediaURLs) == 0 {
		return nil
	}
	kind := transport.MediaVideo
	if p.MediaKind == "image" {
		kind = transport.MediaPhoto
	}
	return &transport.Media{Kind: kind, URL: p.MediaURLs[0]}
}

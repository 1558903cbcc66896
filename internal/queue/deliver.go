package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/engine"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/events"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/notifier"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/transport"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
)

// NewPostDeliver builds the worker's Deliver for post payloads. Queued jobs
// carry no media: it is resolved through the engine chain here, at delivery
// time, so every attempt sees the current engine configuration. When the
// chain is exhausted the message degrades to a link-only send. The job id
// doubles as the correlation id, so retries of the same job stay idempotent.
func NewPostDeliver(engines *engine.Registry, selection func() engine.Selection, n *notifier.Notifier, log logx.Logger) Deliver {
	return func(ctx context.Context, job Job) error {
		var p events.PostDetected
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode job payload: %w", err)
		}

		if len(p.MediaURLs) == 0 && p.PostURL != "" {
			result, err := engines.Download(ctx, p.PostURL, selection())
			if err != nil {
				log.Warn("media fetch failed, delivering link only",
					logx.String("url", p.PostURL), logx.Err(err))
			} else {
				applyResult(&p, result)
			}
		}

		req := notifier.Request{
			Target:        transport.ChatTarget{ChatID: p.ChatID, ThreadID: p.ThreadID},
			Text:          notifier.RenderPost(p),
			SourceURL:     p.PostURL,
			RoleID:        p.RoleID,
			CorrelationID: job.ID.String(),
		}
		if len(p.MediaURLs) > 0 {
			kind := transport.MediaVideo
			if p.MediaKind == "image" {
				kind = transport.MediaPhoto
			}
			req.Media = &transport.Media{Kind: kind, URL: p.MediaURLs[0]}
		}
		return n.Notify(ctx, req)
	}
}

func applyResult(p *events.PostDetected, r *engine.DownloadResult) {
	if r == nil {
		return
	}
	if p.Description == "" {
		p.Description = r.Description
	}
	if p.Author == "" {
		p.Author = r.Author
	}
	switch m := r.Media.(type) {
	case engine.Video:
		p.MediaKind = "video"
		p.MediaURLs = m.URLs
	case engine.Image:
		p.MediaKind = "image"
		p.MediaURLs = m.URLs
	}
}

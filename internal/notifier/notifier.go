// Package notifier renders delivery events into outbound channel messages
// and sends them idempotently.
//
// The dispatcher guarantees at-least-once publication, so the same event can
// reach Notify more than once. Every message carries a correlation marker in
// its footer; before sending, a bounded scan of the channel's recent history
// looks for that marker and suppresses the duplicate when found.
package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/transport"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/retry"
)

// historyDepth bounds the duplicate scan. Ten messages is enough to cover a
// redelivery burst without paging through the whole channel.
const historyDepth = 10

// Marker renders the correlation footer embedded in every outbound message.
func Marker(correlationID string) string {
	return "ref:" + correlationID
}

// Request is one logical delivery. CorrelationID is optional; when empty the
// send is fire-and-forget with no duplicate suppression.
type Request struct {
	Target        transport.ChatTarget
	Text          string
	Media         *transport.Media
	SourceURL     string // original post link, used when media can't be attached
	RoleID        string // platform role/user to tag, optional
	CorrelationID string
}

type Config struct {
	// SendsPerSecond throttles outbound messages across all channels.
	SendsPerSecond float64
	Burst          int
	Retry          retry.Policy
	// HTTPClient performs attachment size lookups. Nil gets a default with a
	// short timeout.
	HTTPClient *http.Client
}

func (c *Config) normalize() {
	if c.SendsPerSecond <= 0 {
		c.SendsPerSecond = 0.5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = retry.DefaultPolicy
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
}

type Notifier struct {
	sender  transport.Sender
	limiter *rate.Limiter
	client  *http.Client
	cfg     Config
	log     logx.Logger
}

func New(sender transport.Sender, cfg Config, log logx.Logger) *Notifier {
	cfg.normalize()
	return &Notifier{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), cfg.Burst),
		client:  cfg.HTTPClient,
		cfg:     cfg,
		log:     log,
	}
}

// Notify performs one idempotent delivery. Calling it twice with the same
// CorrelationID for the same channel produces exactly one visible send.
func (n *Notifier) Notify(ctx context.Context, req Request) error {
	if req.CorrelationID != "" {
		dup, err := n.alreadyDelivered(ctx, req.Target, req.CorrelationID)
		if err != nil {
			// History unavailable is inconclusive: deliver rather than drop.
			n.log.Warn("history scan failed, assuming not a duplicate",
				logx.Int64("chat", req.Target.ChatID), logx.Err(err))
		} else if dup {
			n.log.Info("duplicate delivery suppressed",
				logx.Int64("chat", req.Target.ChatID),
				logx.String("correlation", req.CorrelationID))
			return nil
		}
	}

	text := n.render(req)

	if req.Media != nil && req.Media.Size <= 0 && n.sender.UploadLimit() > 0 {
		if size := n.remoteSize(ctx, req.Media.URL); size > 0 {
			m := *req.Media
			m.Size = size
			req.Media = &m
		}
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	if req.Media != nil && n.fits(req.Media) {
		err := n.sendMedia(ctx, req, text)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		n.log.Warn("media send failed, degrading to source link",
			logx.Int64("chat", req.Target.ChatID), logx.Err(err))
		return n.sendText(ctx, req.Target, n.withSourceLink(text, req))
	}
	if req.Media != nil {
		// Oversized attachment: degrade to the source link instead of failing
		// the whole delivery.
		n.log.Info("attachment exceeds upload limit, sending link instead",
			logx.Int64("chat", req.Target.ChatID),
			logx.Int64("size", req.Media.Size),
			logx.Int64("limit", n.sender.UploadLimit()))
		text = n.withSourceLink(text, req)
	}
	return n.sendText(ctx, req.Target, text)
}

// remoteSize asks the origin for the attachment's size with a HEAD request
// so oversized media can degrade before an upload attempt. Any lookup
// failure leaves the size unknown.
func (n *Notifier) remoteSize(ctx context.Context, rawURL string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0
	}
	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Debug("attachment size lookup failed", logx.Err(err))
		return 0
	}
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return 0
	}
	return resp.ContentLength
}

func (n *Notifier) fits(m *transport.Media) bool {
	limit := n.sender.UploadLimit()
	if limit <= 0 || m.Size <= 0 {
		// Unknown size: optimistically attach and let the platform decide.
		return true
	}
	return m.Size <= limit
}

func (n *Notifier) render(req Request) string {
	var b strings.Builder
	if req.RoleID != "" {
		b.WriteString(req.RoleID)
		b.WriteString("\n")
	}
	b.WriteString(req.Text)
	if req.CorrelationID != "" {
		b.WriteString("\n\n")
		b.WriteString(Marker(req.CorrelationID))
	}
	return b.String()
}

func (n *Notifier) withSourceLink(text string, req Request) string {
	if req.SourceURL == "" {
		return text
	}
	// Insert the link before the marker footer so the footer stays last.
	if req.CorrelationID != "" {
		footer := "\n\n" + Marker(req.CorrelationID)
		if body, ok := strings.CutSuffix(text, footer); ok {
			return body + "\n" + req.SourceURL + footer
		}
	}
	return text + "\n" + req.SourceURL
}

func (n *Notifier) alreadyDelivered(ctx context.Context, to transport.ChatTarget, correlationID string) (bool, error) {
	msgs, err := n.sender.RecentMessages(ctx, to, historyDepth)
	if err != nil {
		return false, fmt.Errorf("recent messages: %w", err)
	}
	marker := Marker(correlationID)
	for _, m := range msgs {
		if strings.Contains(m.Text, marker) {
			return true, nil
		}
	}
	return false, nil
}

func (n *Notifier) sendMedia(ctx context.Context, req Request, caption string) error {
	start := time.Now()
	err := retry.Do(ctx, n.cfg.Retry, func(ctx context.Context) (err error) {
		_, err = n.sender.SendMedia(ctx, req.Target, *req.Media, caption, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("send media to %d: %w", req.Target.ChatID, err)
	}
	n.log.Debug("media delivered",
		logx.Int64("chat", req.Target.ChatID),
		logx.String("kind", string(req.Media.Kind)),
		logx.Duration("took", time.Since(start)))
	return nil
}

func (n *Notifier) sendText(ctx context.Context, to transport.ChatTarget, text string) error {
	err := retry.Do(ctx, n.cfg.Retry, func(ctx context.Context) (err error) {
		_, err = n.sender.SendText(ctx, to, text, &transport.SendOptions{DisablePreview: false})
		return err
	})
	if err != nil {
		return fmt.Errorf("send text to %d: %w", to.ChatID, err)
	}
	return nil
}

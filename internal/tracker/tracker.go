// Package tracker polls tracked creators on a cron schedule and hands fresh
// posts to the forwarding use case.
//
// Detection is watermark-based: the id of the newest post seen per creator is
// persisted, and only posts newer than the watermark are forwarded. A creator
// seen for the first time only establishes the watermark, so tracking a new
// creator does not flood the destination with their back catalog.
package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/mapping"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
)

// Post is one feed entry, newest first in a feed page.
type Post struct {
	ID  string
	URL string
}

// FeedSource lists a creator's recent posts, newest first.
type FeedSource interface {
	RecentPosts(ctx context.Context, username string) ([]Post, error)
}

// Forwarder is the downstream use case; satisfied by forwarder.Forwarder.
type Forwarder interface {
	ForwardPost(ctx context.Context, username, postURL string) error
}

type Config struct {
	// Schedule is a 5-field cron expression. Default: every 2 minutes.
	Schedule string
	Creators []string
}

type Tracker struct {
	feed       FeedSource
	forward    Forwarder
	watermarks *WatermarkStore
	cfg        Config
	log        logx.Logger

	cron    *cron.Cron
	startMu sync.Mutex
}

func New(feed FeedSource, forward Forwarder, watermarks *WatermarkStore, cfg Config, log logx.Logger) (*Tracker, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "*/2 * * * *"
	}
	sanitized := make([]string, 0, len(cfg.Creators))
	for _, raw := range cfg.Creators {
		u, err := mapping.SanitizeUsername(raw)
		if err != nil {
			return nil, fmt.Errorf("tracker creators: %w", err)
		}
		sanitized = append(sanitized, u)
	}
	cfg.Creators = sanitized
	return &Tracker{
		feed:       feed,
		forward:    forward,
		watermarks: watermarks,
		cfg:        cfg,
		log:        log,
	}, nil
}

// Start schedules polling and returns. The cron job carries ctx so a poll in
// flight observes shutdown.
func (t *Tracker) Start(ctx context.Context) error {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	if t.cron != nil {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(t.cfg.Schedule, func() { t.Poll(ctx) })
	if err != nil {
		return fmt.Errorf("tracker schedule %q: %w", t.cfg.Schedule, err)
	}
	t.cron = c
	c.Start()
	t.log.Info("tracker started",
		logx.String("schedule", t.cfg.Schedule),
		logx.Int("creators", len(t.cfg.Creators)))
	return nil
}

// Stop halts scheduling and waits for a running poll to finish.
func (t *Tracker) Stop() {
	t.startMu.Lock()
	c := t.cron
	t.cron = nil
	t.startMu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	t.log.Info("tracker stopped")
}

// Poll checks every tracked creator once. One creator's failure does not
// stop the rest.
func (t *Tracker) Poll(ctx context.Context) {
	for _, username := range t.cfg.Creators {
		if ctx.Err() != nil {
			return
		}
		if err := t.pollCreator(ctx, username); err != nil {
			t.log.Warn("creator poll failed", logx.String("username", username), logx.Err(err))
		}
	}
}

func (t *Tracker) pollCreator(ctx context.Context, username string) error {
	posts, err := t.feed.RecentPosts(ctx, username)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}
	if len(posts) == 0 {
		return nil
	}

	last, err := t.watermarks.Get(ctx, username)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}

	newest := posts[0].ID
	if last == "" {
		// First sight of this creator: set the mark, forward nothing.
		t.log.Info("watermark established",
			logx.String("username", username), logx.String("post", newest))
		return t.watermarks.Set(ctx, username, newest)
	}

	fresh := postsAfter(posts, last)
	// Oldest first so deliveries arrive in posting order.
	for i := len(fresh) - 1; i >= 0; i-- {
		p := fresh[i]
		if err := t.forward.ForwardPost(ctx, username, p.URL); err != nil {
			// Stop here; the watermark stays put so this post is retried
			// on the next poll.
			return fmt.Errorf("forward %s: %w", p.URL, err)
		}
		if err := t.watermarks.Set(ctx, username, p.ID); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}
	return nil
}

// postsAfter returns the entries newer than lastSeen, preserving feed order
// (newest first). An unknown lastSeen means the whole page is fresh.
func postsAfter(posts []Post, lastSeen string) []Post {
	for i, p := range posts {
		if p.ID == lastSeen {
			return posts[:i]
		}
	}
	return posts
}

// Package telegram adapts the transport port to the Telegram Bot API via
// telebot.
//
// Bot accounts cannot read channel history, so RecentMessages is served from
// the adapter's own durable record of sent messages (the sent log). That
// record survives restarts, which is what makes the notifier's duplicate
// scan meaningful across process lifetimes.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/storage"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/transport"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
)

// uploadLimit is the Bot API ceiling for URL-sourced media.
const uploadLimit int64 = 50 << 20

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	bot     *tele.Bot
	sentLog *storage.SentLog
	log     logx.Logger

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

var _ transport.Sender = (*Adapter)(nil)

func New(cfg Config, sentLog *storage.SentLog, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{bot: b, sentLog: sentLog, log: log}, nil
}

// Start begins long polling. The bot receives no commands today; polling
// keeps the session alive and surfaces auth errors early.
func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(1)
	a.runMu.Unlock()

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("telegram polling started")
		a.bot.Start() // blocks until Stop
	}()
	return nil
}

// Stop is best-effort: it never blocks shutdown on a pending long-poll
// beyond a short grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	go a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("telegram polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed, continuing shutdown")
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOptions(to, opt))
	if err != nil {
		return transport.MessageRef{}, err
	}
	ref := transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
	a.record(ctx, ref, text)
	return ref, nil
}

func (a *Adapter) SendMedia(ctx context.Context, to transport.ChatTarget, m transport.Media, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	var what any
	switch m.Kind {
	case transport.MediaPhoto:
		what = &tele.Photo{File: tele.FromURL(m.URL), Caption: caption}
	default:
		what = &tele.Video{File: tele.FromURL(m.URL), Caption: caption}
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOptions(to, opt))
	if err != nil {
		return transport.MessageRef{}, err
	}
	ref := transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
	a.record(ctx, ref, caption)
	return ref, nil
}

// RecentMessages answers from the sent log. An error here means "history
// unavailable"; the notifier treats that as inconclusive.
func (a *Adapter) RecentMessages(ctx context.Context, to transport.ChatTarget, limit int) ([]transport.Message, error) {
	if a.sentLog == nil {
		return nil, errors.New("no sent log configured")
	}
	return a.sentLog.Recent(ctx, to.ChatID, limit)
}

func (a *Adapter) UploadLimit() int64 { return uploadLimit }

// record appends to the sent log. A write failure only weakens duplicate
// detection for this one message, so it is logged and swallowed.
func (a *Adapter) record(ctx context.Context, ref transport.MessageRef, text string) {
	if a.sentLog == nil {
		return
	}
	if err := a.sentLog.Append(ctx, ref, text, time.Now().UTC()); err != nil {
		a.log.Warn("sent log append failed",
			logx.Int64("chat", ref.ChatID),
			logx.Int("message", ref.MessageID),
			logx.Err(err))
	}
}

func sendOptions(to transport.ChatTarget, opt *transport.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
}

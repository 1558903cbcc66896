package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/engine"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/events"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/notifier"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/transport"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/retry"
)

type stubEngine struct {
	name   string
	result *engine.DownloadResult
	err    error
}

func (s stubEngine) Name() string { return s.name }
func (s stubEngine) Download(ctx context.Context, url string) (*engine.DownloadResult, error) {
	return s.result, s.err
}

type fakeSender struct {
	texts    []string
	media    []transport.Media
	captions []string
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.texts = append(f.texts, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeSender) SendMedia(ctx context.Context, to transport.ChatTarget, m transport.Media, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.media = append(f.media, m)
	f.captions = append(f.captions, caption)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.media)}, nil
}

func (f *fakeSender) RecentMessages(ctx context.Context, to transport.ChatTarget, limit int) ([]transport.Message, error) {
	var out []transport.Message
	for i, text := range append(append([]string{}, f.texts...), f.captions...) {
		out = append(out, transport.Message{ID: i + 1, ChatID: to.ChatID, Text: text})
	}
	return out, nil
}

func (f *fakeSender) UploadLimit() int64 { return 50 << 20 }

type offlineTransport struct{}

func (offlineTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("no network in tests")
}

func newDeliverEnv(t *testing.T, engines ...engine.Engine) (Deliver, *fakeSender) {
	t.Helper()
	reg := engine.NewRegistry(logx.Nop())
	reg.Register(engines...)
	sel := engine.Selection{Primary: engines[0].Name()}
	if len(engines) > 1 {
		sel.Fallback1 = engines[1].Name()
	}

	f := &fakeSender{}
	n := notifier.New(f, notifier.Config{
		SendsPerSecond: 1000,
		Burst:          10,
		Retry:          retry.Policy{Attempts: 2, Base: time.Millisecond, MaxDelay: time.Millisecond},
		HTTPClient:     &http.Client{Transport: offlineTransport{}},
	}, logx.Nop())
	return NewPostDeliver(reg, func() engine.Selection { return sel }, n, logx.Nop()), f
}

func postJob(t *testing.T, p events.PostDetected) Job {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return Job{ID: uuid.New(), Payload: b}
}

func TestDeliverResolvesMediaThroughEngineChain(t *testing.T) {
	d, f := newDeliverEnv(t, stubEngine{name: "tikwm", result: &engine.DownloadResult{
		Media:       engine.Video{URLs: []string{"https://cdn/clip.mp4"}},
		Description: "a clip",
	}})
	job := postJob(t, events.PostDetected{
		Username: "creator",
		PostURL:  "https://www.tiktok.com/@creator/video/1",
		ChatID:   42,
	})

	require.NoError(t, d(context.Background(), job))

	require.Len(t, f.media, 1)
	assert.Equal(t, "https://cdn/clip.mp4", f.media[0].URL)
	assert.Contains(t, f.captions[0], "a clip")
	assert.True(t, strings.HasSuffix(f.captions[0], notifier.Marker(job.ID.String())))
}

func TestDeliverFallsBackThroughChainOrder(t *testing.T) {
	failing := stubEngine{name: "tikwm", err: errors.New("rate limited")}
	backup := stubEngine{name: "snapdl", result: &engine.DownloadResult{
		Media: engine.Video{URLs: []string{"https://cdn/backup.mp4"}},
	}}
	d, f := newDeliverEnv(t, failing, backup)
	job := postJob(t, events.PostDetected{
		Username: "creator",
		PostURL:  "https://www.tiktok.com/@creator/video/2",
		ChatID:   42,
	})

	require.NoError(t, d(context.Background(), job))

	require.Len(t, f.media, 1)
	assert.Equal(t, "https://cdn/backup.mp4", f.media[0].URL)
}

func TestDeliverDegradesToLinkWhenChainExhausted(t *testing.T) {
	d, f := newDeliverEnv(t, stubEngine{name: "tikwm", err: errors.New("rate limited")})
	job := postJob(t, events.PostDetected{
		Username: "creator",
		PostURL:  "https://www.tiktok.com/@creator/video/3",
		ChatID:   42,
	})

	require.NoError(t, d(context.Background(), job))

	assert.Empty(t, f.media)
	require.Len(t, f.texts, 1)
	assert.Contains(t, f.texts[0], "https://www.tiktok.com/@creator/video/3")
}

func TestDeliverRejectsMalformedPayload(t *testing.T) {
	d, _ := newDeliverEnv(t, stubEngine{name: "tikwm"})
	err := d(context.Background(), Job{ID: uuid.New(), Payload: []byte("{not json")})
	require.Error(t, err)
}

package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/transport"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/retry"
)

// fakeSender records sends and serves its own history back, like the
// production adapter does with its sent log.
type fakeSender struct {
	texts       []string
	media       []transport.Media
	captions    []string
	uploadLimit int64
	historyErr  error
	sendErr     error
	mediaErr    error
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if f.sendErr != nil {
		return transport.MessageRef{}, f.sendErr
	}
	f.texts = append(f.texts, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeSender) SendMedia(ctx context.Context, to transport.ChatTarget, m transport.Media, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if f.mediaErr != nil {
		return transport.MessageRef{}, f.mediaErr
	}
	if f.sendErr != nil {
		return transport.MessageRef{}, f.sendErr
	}
	f.media = append(f.media, m)
	f.captions = append(f.captions, caption)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.media)}, nil
}

func (f *fakeSender) RecentMessages(ctx context.Context, to transport.ChatTarget, limit int) ([]transport.Message, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	var out []transport.Message
	for i := len(f.texts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, transport.Message{ID: i + 1, ChatID: to.ChatID, Text: f.texts[i]})
	}
	for i := len(f.captions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, transport.Message{ID: i + 1, ChatID: to.ChatID, Text: f.captions[i]})
	}
	return out, nil
}

func (f *fakeSender) UploadLimit() int64 { return f.uploadLimit }

// offlineTransport fails every size lookup so tests stay off the network.
type offlineTransport struct{}

func (offlineTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("no network in tests")
}

func newTestNotifier(f *fakeSender) *Notifier {
	return newTestNotifierWithClient(f, &http.Client{Transport: offlineTransport{}})
}

func newTestNotifierWithClient(f *fakeSender, c *http.Client) *Notifier {
	return New(f, Config{
		SendsPerSecond: 1000,
		Burst:          10,
		Retry:          retry.Policy{Attempts: 2, Base: time.Millisecond, MaxDelay: time.Millisecond},
		HTTPClient:     c,
	}, logx.Nop())
}

func TestDoubleNotifySendsExactlyOnce(t *testing.T) {
	f := &fakeSender{uploadLimit: 50 << 20}
	n := newTestNotifier(f)
	ctx := context.Background()

	req := Request{
		Target:        transport.ChatTarget{ChatID: 42},
		Text:          "new post",
		CorrelationID: "E7",
	}
	require.NoError(t, n.Notify(ctx, req))
	require.NoError(t, n.Notify(ctx, req))

	require.Len(t, f.texts, 1)
	assert.Contains(t, f.texts[0], Marker("E7"))
}

func TestScanFailureFavorsDeliveryOverSuppression(t *testing.T) {
	f := &fakeSender{uploadLimit: 50 << 20, historyErr: errors.New("history unavailable")}
	n := newTestNotifier(f)

	req := Request{Target: transport.ChatTarget{ChatID: 42}, Text: "hi", CorrelationID: "E8"}
	require.NoError(t, n.Notify(context.Background(), req))
	require.NoError(t, n.Notify(context.Background(), req))

	// Without a readable history every attempt delivers.
	assert.Len(t, f.texts, 2)
}

func TestOversizedMediaFallsBackToSourceLink(t *testing.T) {
	f := &fakeSender{uploadLimit: 50 << 20}
	n := newTestNotifier(f)

	req := Request{
		Target:        transport.ChatTarget{ChatID: 7},
		Text:          "big video",
		Media:         &transport.Media{Kind: transport.MediaVideo, URL: "https://cdn/v.mp4", Size: 60 << 20},
		SourceURL:     "https://www.tiktok.com/@a/video/9",
		CorrelationID: "E9",
	}
	require.NoError(t, n.Notify(context.Background(), req))

	assert.Empty(t, f.media, "oversized attachment must not be uploaded")
	require.Len(t, f.texts, 1)
	assert.Contains(t, f.texts[0], "https://www.tiktok.com/@a/video/9")
	assert.True(t, strings.HasSuffix(f.texts[0], Marker("E9")), "marker footer must stay last: %q", f.texts[0])
}

// Production media carries no size up front; the notifier must discover it
// from the origin before handing an oversized file to the platform.
func TestOversizedMediaDetectedFromContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", strconv.FormatInt(60<<20, 10))
	}))
	defer srv.Close()

	f := &fakeSender{uploadLimit: 50 << 20}
	n := newTestNotifierWithClient(f, srv.Client())

	req := Request{
		Target:        transport.ChatTarget{ChatID: 7},
		Text:          "big video",
		Media:         &transport.Media{Kind: transport.MediaVideo, URL: srv.URL + "/v.mp4"},
		SourceURL:     "https://www.tiktok.com/@a/video/9",
		CorrelationID: "E12",
	}
	require.NoError(t, n.Notify(context.Background(), req))

	assert.Empty(t, f.media, "oversized attachment must not be uploaded")
	require.Len(t, f.texts, 1)
	assert.Contains(t, f.texts[0], "https://www.tiktok.com/@a/video/9")
	assert.True(t, strings.HasSuffix(f.texts[0], Marker("E12")))
}

func TestUnknownSizeMediaIsAttachedOptimistically(t *testing.T) {
	f := &fakeSender{uploadLimit: 50 << 20}
	n := newTestNotifier(f)

	req := Request{
		Target:        transport.ChatTarget{ChatID: 7},
		Text:          "clip",
		Media:         &transport.Media{Kind: transport.MediaVideo, URL: "https://cdn/v.mp4"},
		CorrelationID: "E13",
	}
	require.NoError(t, n.Notify(context.Background(), req))

	require.Len(t, f.media, 1)
	assert.Empty(t, f.texts)
}

func TestRejectedUploadDegradesToSourceLink(t *testing.T) {
	f := &fakeSender{uploadLimit: 50 << 20, mediaErr: errors.New("Request Entity Too Large")}
	n := newTestNotifier(f)

	req := Request{
		Target:        transport.ChatTarget{ChatID: 7},
		Text:          "big video",
		Media:         &transport.Media{Kind: transport.MediaVideo, URL: "https://cdn/v.mp4", Size: 10 << 20},
		SourceURL:     "https://www.tiktok.com/@a/video/9",
		CorrelationID: "E14",
	}
	require.NoError(t, n.Notify(context.Background(), req))

	require.Len(t, f.texts, 1)
	assert.Contains(t, f.texts[0], "https://www.tiktok.com/@a/video/9")
	assert.True(t, strings.HasSuffix(f.texts[0], Marker("E14")), "marker footer must stay last: %q", f.texts[0])
}

func TestMediaWithinLimitIsAttached(t *testing.T) {
	f := &fakeSender{uploadLimit: 50 << 20}
	n := newTestNotifier(f)

	req := Request{
		Target:        transport.ChatTarget{ChatID: 7},
		Text:          "clip",
		Media:         &transport.Media{Kind: transport.MediaVideo, URL: "https://cdn/v.mp4", Size: 10 << 20},
		CorrelationID: "E10",
	}
	require.NoError(t, n.Notify(context.Background(), req))

	require.Len(t, f.media, 1)
	assert.Equal(t, "https://cdn/v.mp4", f.media[0].URL)
	assert.Contains(t, f.captions[0], Marker("E10"))
	assert.Empty(t, f.texts)
}

func TestDuplicateDetectedInMediaCaption(t *testing.T) {
	f := &fakeSender{uploadLimit: 50 << 20}
	n := newTestNotifier(f)

	req := Request{
		Target:        transport.ChatTarget{ChatID: 7},
		Text:          "clip",
		Media:         &transport.Media{Kind: transport.MediaVideo, URL: "https://cdn/v.mp4", Size: 1 << 20},
		CorrelationID: "E11",
	}
	require.NoError(t, n.Notify(context.Background(), req))
	require.NoError(t, n.Notify(context.Background(), req))

	assert.Len(t, f.media, 1)
}

func TestRoleTagLeadsTheMessage(t *testing.T) {
	f := &fakeSender{uploadLimit: 50 << 20}
	n := newTestNotifier(f)

	req := Request{
		Target: transport.ChatTarget{ChatID: 1},
		Text:   "ping",
		RoleID: "@moderators",
	}
	require.NoError(t, n.Notify(context.Background(), req))

	require.Len(t, f.texts, 1)
	assert.True(t, strings.HasPrefix(f.texts[0], "@moderators\n"))
}

func TestSendFailureSurfacesAfterRetries(t *testing.T) {
	f := &fakeSender{uploadLimit: 50 << 20, sendErr: errors.New("flood wait")}
	n := newTestNotifier(f)

	err := n.Notify(context.Background(), Request{Target: transport.ChatTarget{ChatID: 1}, Text: "x"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "flood wait")
}

package notifier

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/events"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/outbox"
)

func TestHandlePostDetectedDeliversRenderedPost(t *testing.T) {
	f := &fakeSender{uploadLimit: 50 << 20}
	n := newTestNotifier(f)

	ev, err := outbox.NewEvent(events.TypePostDetected, events.AggregateID("charlidamelio", 42), events.PostDetected{
		Username:    "charlidamelio",
		PostURL:     "https://www.tiktok.com/@charlidamelio/video/123",
		ChatID:      42,
		MediaKind:   "video",
		MediaURLs:   []string{"https://cdn/v.mp4"},
		Description: "dance",
		Author:      "charli d'amelio",
	})
	require.NoError(t, err)

	require.NoError(t, n.HandlePostDetected(context.Background(), *ev))

	require.Len(t, f.media, 1)
	caption := f.captions[0]
	assert.Contains(t, caption, "charli d'amelio")
	assert.Contains(t, caption, "dance")
	assert.Contains(t, caption, Marker(ev.ID.String()))
}

func TestHandlePostDetectedRejectsMalformedPayload(t *testing.T) {
	f := &fakeSender{uploadLimit: 50 << 20}
	n := newTestNotifier(f)

	ev, err := outbox.NewEvent(events.TypePostDetected, "x#1", events.PostDetected{})
	require.NoError(t, err)
	ev.Payload = json.RawMessage(`{"chat_id": "not a number"}`)

	err = n.HandlePostDetected(context.Background(), *ev)
	require.Error(t, err)
	assert.Empty(t, f.texts)
	assert.Empty(t, f.media)
}

package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/retry"
)

// DirectOptions configures the direct engine at construction time.
type DirectOptions struct {
	Client *http.Client
	Retry  retry.Policy
}

// Direct is the generic catch-all engine: it probes the URL itself and, when
// the origin serves a video or image directly, passes the URL through. It
// carries no provider-specific knowledge.
type Direct struct {
	client *http.Client
	retry  retry.Policy
}

func NewDirect(opt DirectOptions) *Direct {
	pol := opt.Retry
	if pol.Attempts == 0 {
		pol = retry.DefaultPolicy
	}
	return &Direct{client: defaultClient(opt.Client), retry: pol}
}

func (d *Direct) Name() string { return "direct" }

func (d *Direct) Download(ctx context.Context, rawURL string) (*DownloadResult, error) {
	var contentType string
	err := retry.Do(ctx, d.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		contentType = resp.Header.Get("Content-Type")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("direct: %w", err)
	}

	switch {
	case strings.HasPrefix(contentType, "video/"):
		return &DownloadResult{Media: Video{URLs: []string{rawURL}}}, nil
	case strings.HasPrefix(contentType, "image/"):
		return &DownloadResult{Media: Image{URLs: []string{rawURL}}}, nil
	default:
		return nil, fmt.Errorf("direct: origin is not media (content-type %q)", contentType)
	}
}

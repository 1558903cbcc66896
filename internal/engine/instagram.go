package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/retry"
)

// InstagramHost matches instagram post URLs for platform routing.
var InstagramHost = regexp.MustCompile(`(^|\.)instagram\.com$`)

// InstagramOptions configures the instagram engine at construction time.
type InstagramOptions struct {
	BaseURL string // resolver endpoint; required
	Client  *http.Client
	Retry   retry.Policy
}

// Instagram is the dedicated engine for instagram.com URLs. It never takes
// part in the TikTok fallback chain; the registry routes to it directly.
type Instagram struct {
	base   string
	client *http.Client
	retry  retry.Policy
}

func NewInstagram(opt InstagramOptions) *Instagram {
	pol := opt.Retry
	if pol.Attempts == 0 {
		pol = retry.DefaultPolicy
	}
	return &Instagram{base: opt.BaseURL, client: defaultClient(opt.Client), retry: pol}
}

func (i *Instagram) Name() string { return "instagram" }

func (i *Instagram) Download(ctx context.Context, postURL string) (*DownloadResult, error) {
	if i.base == "" {
		return nil, fmt.Errorf("instagram: no base url configured")
	}
	endpoint := i.base + "/media?url=" + url.QueryEscape(postURL)

	var resp struct {
		Status  string   `json:"status"`
		Message string   `json:"message"`
		Kind    string   `json:"kind"` // "video" | "image"
		URLs    []string `json:"urls"`
		Caption string   `json:"caption"`
		User    string   `json:"user"`
	}
	if err := getJSON(ctx, i.client, i.retry, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("instagram: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("instagram: resolver error: %s", resp.Message)
	}
	if len(resp.URLs) == 0 {
		return nil, fmt.Errorf("instagram: response carried no media urls")
	}

	res := &DownloadResult{Description: resp.Caption, Author: resp.User}
	if resp.Kind == "image" {
		res.Media = Image{URLs: resp.URLs}
	} else {
		res.Media = Video{URLs: resp.URLs}
	}
	return res, nil
}

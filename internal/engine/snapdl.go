package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/retry"
)

// SnapdlOptions configures the snapdl engine at construction time.
type SnapdlOptions struct {
	BaseURL string // required; the self-hosted resolver endpoint
	APIKey  string
	Client  *http.Client
	Retry   retry.Policy
}

// Snapdl resolves posts through a snapdl-compatible resolver service.
// It is typically configured as a fallback behind tikwm.
type Snapdl struct {
	base   string
	apiKey string
	client *http.Client
	retry  retry.Policy
}

func NewSnapdl(opt SnapdlOptions) *Snapdl {
	pol := opt.Retry
	if pol.Attempts == 0 {
		pol = retry.DefaultPolicy
	}
	return &Snapdl{base: opt.BaseURL, apiKey: opt.APIKey, client: defaultClient(opt.Client), retry: pol}
}

func (s *Snapdl) Name() string { return "snapdl" }

func (s *Snapdl) Download(ctx context.Context, postURL string) (*DownloadResult, error) {
	if s.base == "" {
		return nil, fmt.Errorf("snapdl: no base url configured")
	}
	endpoint := s.base + "/resolve?url=" + url.QueryEscape(postURL)
	if s.apiKey != "" {
		endpoint += "&key=" + url.QueryEscape(s.apiKey)
	}

	var resp struct {
		OK     bool     `json:"ok"`
		Error  string   `json:"error"`
		Type   string   `json:"type"` // "video" | "images"
		URLs   []string `json:"urls"`
		Title  string   `json:"title"`
		Author string   `json:"author"`
	}
	if err := getJSON(ctx, s.client, s.retry, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("snapdl: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("snapdl: resolver error: %s", resp.Error)
	}
	if len(resp.URLs) == 0 {
		return nil, fmt.Errorf("snapdl: response carried no media urls")
	}

	res := &DownloadResult{Description: resp.Title, Author: resp.Author}
	switch resp.Type {
	case "images":
		res.Media = Image{URLs: resp.URLs}
	default:
		res.Media = Video{URLs: resp.URLs}
	}
	return res, nil
}

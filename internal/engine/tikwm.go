package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/retry"
)

// TikwmOptions configures the tikwm engine at construction time.
type TikwmOptions struct {
	BaseURL string // default "https://www.tikwm.com"
	Client  *http.Client
	Retry   retry.Policy
}

// Tikwm resolves TikTok posts through the tikwm.com JSON API.
type Tikwm struct {
	base   string
	client *http.Client
	retry  retry.Policy
}

func NewTikwm(opt TikwmOptions) *Tikwm {
	base := opt.BaseURL
	if base == "" {
		base = "https://www.tikwm.com"
	}
	pol := opt.Retry
	if pol.Attempts == 0 {
		pol = retry.DefaultPolicy
	}
	return &Tikwm{base: base, client: defaultClient(opt.Client), retry: pol}
}

func (t *Tikwm) Name() string { return "tikwm" }

func (t *Tikwm) Download(ctx context.Context, postURL string) (*DownloadResult, error) {
	endpoint := t.base + "/api/?hd=1&url=" + url.QueryEscape(postURL)

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Play   string   `json:"play"`
			HDPlay string   `json:"hdplay"`
			Images []string `json:"images"`
			Title  string   `json:"title"`
			Author struct {
				Nickname string `json:"nickname"`
				UniqueID string `json:"unique_id"`
			} `json:"author"`
		} `json:"data"`
	}
	if err := getJSON(ctx, t.client, t.retry, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("tikwm: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("tikwm: api error: %s", resp.Msg)
	}

	author := resp.Data.Author.Nickname
	if author == "" {
		author = resp.Data.Author.UniqueID
	}
	res := &DownloadResult{Description: resp.Data.Title, Author: author}

	if len(resp.Data.Images) > 0 {
		res.Media = Image{URLs: resp.Data.Images}
		return res, nil
	}

	var urls []string
	if resp.Data.HDPlay != "" {
		urls = append(urls, resp.Data.HDPlay)
	}
	if resp.Data.Play != "" {
		urls = append(urls, resp.Data.Play)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("tikwm: response carried no media urls")
	}
	res.Media = Video{URLs: urls}
	return res, nil
}

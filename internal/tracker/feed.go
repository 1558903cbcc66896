package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/retry"
)

// TikwmFeedOptions configures the tikwm-backed feed source.
type TikwmFeedOptions struct {
	BaseURL string // default "https://www.tikwm.com"
	Client  *http.Client
	Retry   retry.Policy
}

// TikwmFeed lists a creator's recent posts through the tikwm.com user feed
// API. It only reads post ids and canonical URLs; media resolution happens
// later through the engine chain.
type TikwmFeed struct {
	base   string
	client *http.Client
	retry  retry.Policy
}

var _ FeedSource = (*TikwmFeed)(nil)

func NewTikwmFeed(opt TikwmFeedOptions) *TikwmFeed {
	base := opt.BaseURL
	if base == "" {
		base = "https://www.tikwm.com"
	}
	client := opt.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	pol := opt.Retry
	if pol.Attempts == 0 {
		pol = retry.DefaultPolicy
	}
	return &TikwmFeed{base: base, client: client, retry: pol}
}

func (f *TikwmFeed) RecentPosts(ctx context.Context, username string) ([]Post, error) {
	endpoint := f.base + "/api/user/posts?count=10&unique_id=" + url.QueryEscape(username)

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Videos []struct {
				VideoID string `json:"video_id"`
			} `json:"videos"`
		} `json:"data"`
	}
	err := retry.Do(ctx, f.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		res, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode/100 != 2 {
			return fmt.Errorf("unexpected status %d", res.StatusCode)
		}
		return json.NewDecoder(io.LimitReader(res.Body, 4<<20)).Decode(&resp)
	})
	if err != nil {
		return nil, fmt.Errorf("tikwm feed: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("tikwm feed: api error: %s", resp.Msg)
	}

	posts := make([]Post, 0, len(resp.Data.Videos))
	for _, v := range resp.Data.Videos {
		if v.VideoID == "" {
			continue
		}
		posts = append(posts, Post{
			ID:  v.VideoID,
			URL: fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", username, v.VideoID),
		})
	}
	return posts, nil
}

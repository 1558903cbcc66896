package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/retry"
)

const defaultHTTPTimeout = 15 * time.Second

// maxAPIResponseBytes bounds provider API responses; anything bigger is not a
// metadata payload.
const maxAPIResponseBytes = 4 << 20

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// getJSON fetches url and decodes the body into out, retrying transient
// failures per policy.
func getJSON(ctx context.Context, client *http.Client, pol retry.Policy, url string, out any) error {
	return retry.Do(ctx, pol, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		body := io.LimitReader(resp.Body, maxAPIResponseBytes)
		if err := json.NewDecoder(body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// Package engine implements the media download layer: a registry of named,
// interchangeable fetch providers and an ordered fallback chain built from
// configuration.
//
// Engines are stateless; no engine call depends on another. TikTok URLs walk
// the configured chain in order until one engine succeeds. URLs for other
// platforms bypass the chain and go straight to the engine registered for
// that platform (or the generic catch-all).
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Media is the downloaded payload variant. Exactly Video or Image.
type Media interface {
	isMedia()
}

// Video is an ordered list of playable URLs (first is preferred quality).
type Video struct {
	URLs []string
}

// Image is an ordered list of image URLs (a multi-image post keeps its order).
type Image struct {
	URLs []string
}

func (Video) isMedia() {}
func (Image) isMedia() {}

// DownloadResult is produced fresh per request and never persisted.
type DownloadResult struct {
	Media       Media
	Description string
	Author      string
}

// PrimaryURL returns the first media URL, or "" for an empty result.
func (r *DownloadResult) PrimaryURL() string {
	switch m := r.Media.(type) {
	case Video:
		if len(m.URLs) > 0 {
			return m.URLs[0]
		}
	case Image:
		if len(m.URLs) > 0 {
			return m.URLs[0]
		}
	}
	return ""
}

// Engine is a single named media-fetch provider.
type Engine interface {
	Name() string
	Download(ctx context.Context, url string) (*DownloadResult, error)
}

// ErrNoEngines means the selection filtered down to nothing usable.
var ErrNoEngines = errors.New("no download engines configured")

// ExhaustedError aggregates a full chain failure. It always carries the last
// engine's failure so callers see a concrete reason, not just "all failed".
type ExhaustedError struct {
	Tried []string
	Last  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all download engines failed (tried %s): %v",
		strings.Join(e.Tried, ", "), e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Selection is the engine order read from configuration at fetch time.
// The sentinel "none" disables a slot.
type Selection struct {
	Primary   string
	Fallback1 string
	Fallback2 string
}

// SentinelNone disables a selection slot.
const SentinelNone = "none"

// names returns the raw slot values in chain order.
func (s Selection) names() []string {
	return []string{s.Primary, s.Fallback1, s.Fallback2}
}

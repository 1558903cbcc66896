package engine

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
)

var tiktokHost = regexp.MustCompile(`(^|\.)tiktok\.com$`)

type platformRoute struct {
	host   *regexp.Regexp
	engine string
}

// Registry holds named engines and per-platform routes.
//
// It is an explicit instance wired at startup, passed by reference to whoever
// downloads. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	engines  map[string]Engine
	routes   []platformRoute
	catchAll string

	log logx.Logger
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{engines: map[string]Engine{}, log: log}
}

// Register adds engines by their Name(). Later registrations win.
func (r *Registry) Register(engines ...Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range engines {
		name := strings.ToLower(strings.TrimSpace(e.Name()))
		if name == "" || name == SentinelNone {
			r.log.Warn("refusing to register engine with unusable name", logx.String("name", e.Name()))
			continue
		}
		r.engines[name] = e
	}
}

// RoutePlatform dispatches URLs whose host matches pattern directly to the
// named engine, skipping the fallback chain.
func (r *Registry) RoutePlatform(hostPattern *regexp.Regexp, engineName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, platformRoute{host: hostPattern, engine: strings.ToLower(engineName)})
}

// SetCatchAll names the engine used for non-TikTok URLs with no dedicated route.
func (r *Registry) SetCatchAll(engineName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catchAll = strings.ToLower(engineName)
}

func (r *Registry) get(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// chain builds the ordered, de-duplicated execution list for TikTok URLs.
// The "none" sentinel and names with no registered engine are dropped.
func (r *Registry) chain(sel Selection) []Engine {
	seen := map[string]bool{}
	var out []Engine
	for _, raw := range sel.names() {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || name == SentinelNone || seen[name] {
			continue
		}
		seen[name] = true
		e, ok := r.get(name)
		if !ok {
			r.log.Warn("configured download engine is not registered", logx.String("engine", name))
			continue
		}
		out = append(out, e)
	}
	return out
}

// Download routes the URL and executes the appropriate engine(s).
//
// TikTok URLs walk the selection chain strictly in order; each engine failure
// is logged with the engine name and the next engine is tried. Other
// platforms dispatch to their dedicated engine (or the catch-all) with no
// fallback.
func (r *Registry) Download(ctx context.Context, rawURL string, sel Selection) (*DownloadResult, error) {
	host := hostOf(rawURL)

	if !tiktokHost.MatchString(host) {
		return r.downloadDirect(ctx, rawURL, host)
	}

	engines := r.chain(sel)
	if len(engines) == 0 {
		return nil, ErrNoEngines
	}

	var tried []string
	var last error
	for _, e := range engines {
		tried = append(tried, e.Name())
		res, err := e.Download(ctx, rawURL)
		if err == nil {
			return res, nil
		}
		last = err
		r.log.Warn("download engine failed, trying next",
			logx.String("engine", e.Name()), logx.Err(err))
	}
	return nil, &ExhaustedError{Tried: tried, Last: last}
}

func (r *Registry) downloadDirect(ctx context.Context, rawURL, host string) (*DownloadResult, error) {
	r.mu.RLock()
	routes := r.routes
	catchAll := r.catchAll
	r.mu.RUnlock()

	name := catchAll
	for _, rt := range routes {
		if rt.host.MatchString(host) {
			name = rt.engine
			break
		}
	}
	if name == "" {
		return nil, ErrNoEngines
	}
	e, ok := r.get(name)
	if !ok {
		return nil, ErrNoEngines
	}
	res, err := e.Download(ctx, rawURL)
	if err != nil {
		return nil, &ExhaustedError{Tried: []string{e.Name()}, Last: err}
	}
	return res, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

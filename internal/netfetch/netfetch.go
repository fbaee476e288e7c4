// Package netfetch sends fetch events upstream over HTTP.
package netfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/schema"
)

// hopHeaders are connection-scoped and must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Context keys for fetch options
type contextKey string

const followRedirectsKey contextKey = "followRedirects"

// WithFollowRedirects marks ctx so that fetches made with it follow redirects.
// Without the mark a 3xx response is returned to the caller as-is.
func WithFollowRedirects(ctx context.Context) context.Context {
	return context.WithValue(ctx, followRedirectsKey, true)
}

// shouldFollowRedirects returns whether redirects should be followed from context
func shouldFollowRedirects(ctx context.Context) bool {
	val := ctx.Value(followRedirectsKey)
	if val == nil {
		return false // default: hand 3xx back to the caller
	}
	follow, ok := val.(bool)
	return ok && follow
}

// HTTPFetcher fetches requests from a single upstream origin.
type HTTPFetcher struct {
	client *http.Client
	origin *url.URL
}

var _ contract.Fetcher = &HTTPFetcher{} // Compile-time check

// NewHTTPFetcher returns a fetcher for origin. A zero timeout disables the deadline.
func NewHTTPFetcher(origin *url.URL, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		origin: origin,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if !shouldFollowRedirects(req.Context()) {
					return http.ErrUseLastResponse
				}
				if len(via) >= 10 {
					return fmt.Errorf("stopped after %d redirects", len(via))
				}
				return nil
			},
		},
	}
}

// Origin returns the upstream origin.
func (f *HTTPFetcher) Origin() *url.URL { return f.origin }

// Fetch implements contract.Fetcher. Relative request URLs are resolved
// against the origin, so server-side requests can be passed straight through.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	out.URL = contract.ResolveRequestURL(f.origin, req.URL)
	out.Host = out.URL.Host
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	return f.client.Do(out)
}

// Capture reads resp fully and closes its body.
func Capture(resp *http.Response, key string, now time.Time) (schema.CachedResponse, error) {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return schema.CachedResponse{}, fmt.Errorf("read body of %s: %w", key, err)
	}
	return schema.CachedResponse{
		URL:      key,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: now,
	}, nil
}

// Package contract provides interfaces and shared utilities for internal architecture.
package contract

import (
	"context"
	"net/http"
	"time"

	"github.com/nutrifyke/offlinecache/schema"
)

// Fetcher performs network requests on behalf of the worker.
// This allows the worker to be tested without a live origin.
type Fetcher interface {
	// Fetch sends req upstream. A nil error means the request completed,
	// whatever the HTTP status; a non-nil error is a transport failure.
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts an ordinary function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch calls f(ctx, req).
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// Recorder receives worker events for metrics.
type Recorder interface {
	ObserveFetch(source schema.FetchSource)
	ObserveInstall(err error)
	ObserveActivate(deleted int)
	ObserveUpstream(elapsed time.Duration)
}

// NopRecorder discards every observation.
type NopRecorder struct{}

var _ Recorder = NopRecorder{} // Compile-time check

// ObserveFetch implements Recorder.
func (NopRecorder) ObserveFetch(schema.FetchSource) {}

// ObserveInstall implements Recorder.
func (NopRecorder) ObserveInstall(error) {}

// ObserveActivate implements Recorder.
func (NopRecorder) ObserveActivate(int) {}

// ObserveUpstream implements Recorder.
func (NopRecorder) ObserveUpstream(time.Duration) {}

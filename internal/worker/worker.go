// Package worker implements the offline cache worker: it precaches a fixed
// asset manifest on install, drops stale cache generations on activate and
// answers fetch events network first with a cache fallback.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/internal/netfetch"
	"github.com/nutrifyke/offlinecache/schema"
)

// Header marking responses replayed from the cache.
const (
	CacheHeader    = "X-Offline-Cache"
	CacheHeaderHit = "hit"
)

// Config is the immutable configuration of a worker.
type Config struct {
	CacheName   string   // Current cache generation
	Manifest    []string // Absolute asset URLs precached on install
	Origin      *url.URL // Resolves server-side request paths into cache keys
	OfflinePage string   // Absolute URL served to navigations on a miss; optional
}

// ConfigFrom derives the worker configuration from the validated runtime config.
func ConfigFrom(cfg *contract.Config) Config {
	return Config{
		CacheName:   cfg.CacheName,
		Manifest:    slices.Clone(cfg.Manifest),
		Origin:      cfg.Origin,
		OfflinePage: cfg.OfflinePage,
	}
}

// Option customizes a Worker.
type Option func(*Worker)

// WithRecorder reports lifecycle and fetch events to r.
func WithRecorder(r contract.Recorder) Option {
	return func(w *Worker) { w.recorder = r }
}

// WithClock overrides the time source used for upstream latency.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// Worker dispatches install, activate and fetch events.
// Fetch is safe for concurrent use; lifecycle events are serialized.
type Worker struct {
	cfg      Config
	storage  contract.CacheStorage
	fetcher  contract.Fetcher
	recorder contract.Recorder
	now      func() time.Time

	lifecycle sync.Mutex // Serializes Install and Activate
	state     atomic.Value
	cache     atomic.Pointer[cacheRef] // Set once install has settled
}

type cacheRef struct{ contract.Cache }

// New returns a worker in the parsed state.
func New(cfg Config, storage contract.CacheStorage, fetcher contract.Fetcher, opts ...Option) (*Worker, error) {
	if cfg.CacheName == "" {
		return nil, errors.New("cache name cannot be empty")
	}
	if storage == nil || fetcher == nil {
		return nil, errors.New("worker needs a cache storage and a fetcher")
	}
	cfg.Manifest = slices.Clone(cfg.Manifest)
	w := &Worker{
		cfg:      cfg,
		storage:  storage,
		fetcher:  fetcher,
		recorder: contract.NopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.state.Store(schema.StateParsed)
	return w, nil
}

// State returns the current lifecycle phase.
func (w *Worker) State() schema.WorkerState {
	return w.state.Load().(schema.WorkerState)
}

// Ready reports whether install has completed, which enables the cache fallback.
func (w *Worker) Ready() bool {
	return w.cache.Load() != nil
}

// Status summarizes the worker for health checks.
func (w *Worker) Status() schema.WorkerStatus {
	status := schema.WorkerStatus{
		State:     w.State(),
		Ready:     w.Ready(),
		CacheName: w.cfg.CacheName,
		Manifest:  slices.Clone(w.cfg.Manifest),
	}
	if w.cfg.Origin != nil {
		status.Origin = w.cfg.Origin.String()
	}
	return status
}

// Install opens the current cache and precaches the whole manifest.
// Either every asset is stored or nothing is; the call returns once the
// outcome has settled. A failed first install leaves the worker redundant
// and may be retried. A failed reinstall keeps the worker in its previous
// state, since the copy stored by the earlier install is untouched.
func (w *Worker) Install(ctx context.Context) (int, error) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	prev := w.State()
	w.state.Store(schema.StateInstalling)
	n, err := w.install(ctx)
	w.recorder.ObserveInstall(err)
	if err != nil {
		if w.Ready() {
			w.state.Store(prev)
		} else {
			w.state.Store(schema.StateRedundant)
		}
		return 0, err
	}
	w.state.Store(schema.StateInstalled)
	return n, nil
}

func (w *Worker) install(ctx context.Context) (int, error) {
	cache, err := w.storage.Open(ctx, w.cfg.CacheName)
	if err != nil {
		return 0, &InstallError{CacheName: w.cfg.CacheName, Err: err}
	}
	if err := cache.AddAll(netfetch.WithFollowRedirects(ctx), w.timed(), w.cfg.Manifest); err != nil {
		installErr := &InstallError{CacheName: w.cfg.CacheName, Err: err}
		var assetErr *contract.AssetError
		if errors.As(err, &assetErr) {
			installErr.URL = assetErr.URL
		}
		return 0, installErr
	}
	w.cache.Store(&cacheRef{cache})
	return len(w.cfg.Manifest), nil
}

// Resume attaches to a cache generation stored by an earlier install, so a
// restarted worker can serve the fallback without refetching the manifest.
// It reports false when the current cache does not exist or does not hold
// every manifest entry, which is the case after a failed install.
func (w *Worker) Resume(ctx context.Context) (bool, error) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if w.Ready() {
		return true, nil
	}
	exists, err := w.storage.Has(ctx, w.cfg.CacheName)
	if err != nil {
		return false, fmt.Errorf("check cache %s: %w", w.cfg.CacheName, err)
	}
	if !exists {
		return false, nil
	}
	cache, err := w.storage.Open(ctx, w.cfg.CacheName)
	if err != nil {
		return false, fmt.Errorf("open cache %s: %w", w.cfg.CacheName, err)
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		return false, fmt.Errorf("list cache %s: %w", w.cfg.CacheName, err)
	}
	for _, raw := range w.cfg.Manifest {
		u, err := url.Parse(raw)
		if err != nil || !slices.Contains(keys, contract.NormalizeRequestURL(u)) {
			return false, nil
		}
	}
	w.cache.Store(&cacheRef{cache})
	w.state.Store(schema.StateInstalled)
	return true, nil
}

// Activate deletes every cache generation other than the current one and
// returns the deleted names.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if !w.Ready() {
		return nil, ErrNotInstalled
	}
	w.state.Store(schema.StateActivating)

	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.state.Store(schema.StateInstalled)
		return nil, fmt.Errorf("list caches: %w", err)
	}
	var deleted []string
	for _, name := range names {
		if name == w.cfg.CacheName {
			continue
		}
		ok, err := w.storage.Delete(ctx, name)
		if err != nil {
			w.state.Store(schema.StateInstalled)
			w.recorder.ObserveActivate(len(deleted))
			return deleted, fmt.Errorf("delete cache %s: %w", name, err)
		}
		if ok {
			deleted = append(deleted, name)
		}
	}
	w.recorder.ObserveActivate(len(deleted))
	w.state.Store(schema.StateActivated)
	return deleted, nil
}

// Fetch answers a fetch event. The network is always tried first and any
// response it returns is passed through unchanged, whatever its status.
// Only a transport failure consults the cache, and only once installed.
// A failure with nothing cached yields ErrNoMatch. Fetch never writes to the cache.
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := w.timed().Fetch(ctx, req)
	if err == nil {
		w.recorder.ObserveFetch(schema.SourceNetwork)
		return resp, nil
	}

	key := w.RequestKey(req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		w.recorder.ObserveFetch(schema.SourceError)
		return nil, ctxErr
	}
	netErr := &NetworkError{URL: key, Err: err}

	ref := w.cache.Load()
	if ref == nil {
		w.recorder.ObserveFetch(schema.SourceError)
		return nil, netErr
	}
	if req.Method != http.MethodGet {
		w.recorder.ObserveFetch(schema.SourceMiss)
		return nil, fmt.Errorf("%w: %w", ErrNoMatch, netErr)
	}

	entry, err := ref.Match(ctx, key)
	if errors.Is(err, contract.ErrCacheMiss) {
		w.recorder.ObserveFetch(schema.SourceMiss)
		return nil, fmt.Errorf("%w: %w", ErrNoMatch, netErr)
	}
	if err != nil {
		w.recorder.ObserveFetch(schema.SourceError)
		return nil, fmt.Errorf("cache lookup %s: %w", key, err)
	}

	w.recorder.ObserveFetch(schema.SourceCache)
	return replay(entry, req), nil
}

// MatchOfflinePage returns the cached offline page, or ErrNoMatch when none
// is configured or cached.
func (w *Worker) MatchOfflinePage(ctx context.Context, req *http.Request) (*http.Response, error) {
	ref := w.cache.Load()
	if w.cfg.OfflinePage == "" || ref == nil {
		return nil, ErrNoMatch
	}
	entry, err := ref.Match(ctx, w.cfg.OfflinePage)
	if errors.Is(err, contract.ErrCacheMiss) {
		return nil, ErrNoMatch
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup %s: %w", w.cfg.OfflinePage, err)
	}
	return replay(entry, req), nil
}

// RequestKey returns the cache key of req.
func (w *Worker) RequestKey(req *http.Request) string {
	return contract.NormalizeRequestURL(contract.ResolveRequestURL(w.cfg.Origin, req.URL))
}

// SourceOf reports whether resp came from the network or the cache.
func SourceOf(resp *http.Response) schema.FetchSource {
	if resp.Header.Get(CacheHeader) == CacheHeaderHit {
		return schema.SourceCache
	}
	return schema.SourceNetwork
}

func replay(entry schema.CachedResponse, req *http.Request) *http.Response {
	resp := entry.ToHTTPResponse(req)
	resp.Header.Set(CacheHeader, CacheHeaderHit)
	return resp
}

// timed wraps the fetcher so upstream latency is recorded.
func (w *Worker) timed() contract.Fetcher {
	return contract.FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		start := w.now()
		resp, err := w.fetcher.Fetch(ctx, req)
		w.recorder.ObserveUpstream(w.now().Sub(start))
		return resp, err
	})
}

// Package core has the entry points behind each command: install, activate,
// one-off fetches and the long-running proxy.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/internal/metrics"
	"github.com/nutrifyke/offlinecache/internal/netfetch"
	"github.com/nutrifyke/offlinecache/internal/outwriter"
	"github.com/nutrifyke/offlinecache/internal/proxy"
	"github.com/nutrifyke/offlinecache/internal/worker"
	"go.uber.org/zap"
)

// ExecutorFunc defines the function signature for executing one-shot commands.
type ExecutorFunc func(ctx context.Context, cfg *contract.Config, mgr contract.CacheManager) error

// shutdownTimeout bounds how long in-flight requests may take once serve is asked to stop.
const shutdownTimeout = 10 * time.Second

// stdout is where command results are printed.
var stdout io.Writer = os.Stdout

// newWorker builds a worker over the managed storage and an HTTP fetcher for the origin.
func newWorker(cfg *contract.Config, mgr contract.CacheManager, opts ...worker.Option) (*worker.Worker, error) {
	if mgr == nil || mgr.GetCacheStorage() == nil {
		return nil, errors.New("cache storage is not initialized")
	}
	fetcher := netfetch.NewHTTPFetcher(cfg.Origin, cfg.FetchTimeout)
	return worker.New(worker.ConfigFrom(cfg), mgr.GetCacheStorage(), fetcher, opts...)
}

// ExecuteInstall precaches the asset manifest into the current cache.
func ExecuteInstall(ctx context.Context, cfg *contract.Config, mgr contract.CacheManager) error {
	w, err := newWorker(cfg, mgr)
	if err != nil {
		return err
	}
	n, err := installWithRetry(ctx, w, cfg.InstallRetries, cfg.InstallRetryDelay, func(attempt int, err error) {
		contract.LogWarn(fmt.Sprintf("Install attempt %d failed, retrying in %s", attempt, cfg.InstallRetryDelay), err)
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "Installed %d assets into cache %s\n", n, cfg.CacheName)
	return err
}

// ExecuteActivate deletes every cache generation other than the current one.
// The current generation must have been installed already.
func ExecuteActivate(ctx context.Context, cfg *contract.Config, mgr contract.CacheManager) error {
	w, err := newWorker(cfg, mgr)
	if err != nil {
		return err
	}
	ok, err := w.Resume(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cache %s: %w (run install first)", cfg.CacheName, worker.ErrNotInstalled)
	}
	deleted, err := w.Activate(ctx)
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		_, err = fmt.Fprintln(stdout, "No stale caches found.")
		return err
	}
	_, err = fmt.Fprintf(stdout, "Deleted %d stale caches: %s\n", len(deleted), strings.Join(deleted, ", "))
	return err
}

// ExecuteCacheExport writes the metadata of every stored entry in the configured format.
func ExecuteCacheExport(ctx context.Context, cfg *contract.Config, mgr contract.CacheManager) error {
	if mgr == nil || mgr.GetCacheStorage() == nil {
		return errors.New("cache storage is not initialized")
	}
	records, err := mgr.GetCacheStorage().ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}
	if len(records) == 0 {
		return errors.New("no cache entries found to export")
	}
	return outwriter.NewOutWriter(cfg.Width).WriteEntries(records, cfg.Output, cfg.OutputFile)
}

// ExecuteFetch dispatches a single fetch event for target and prints where the
// response came from. An absent response is reported as worker.ErrNoMatch.
func ExecuteFetch(ctx context.Context, cfg *contract.Config, mgr contract.CacheManager, target string) error {
	w, err := newWorker(cfg, mgr)
	if err != nil {
		return err
	}
	if _, err := w.Resume(ctx); err != nil {
		return err
	}

	key, err := contract.ResolveAssetURL(cfg.Origin, target)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return err
	}

	resp, err := w.Fetch(ctx, req)
	if errors.Is(err, worker.ErrNoMatch) {
		_, _ = fmt.Fprintf(stdout, "URL:    %s\nSource: miss\n", key)
		return err
	}
	if err != nil {
		return err
	}

	source := worker.SourceOf(resp)
	entry, err := netfetch.Capture(resp, key, time.Now())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "URL:    %s\nSource: %s\nStatus: %d %s\nType:   %s\nSize:   %s\n",
		key, source, entry.Status, http.StatusText(entry.Status),
		entry.Header.Get("Content-Type"), humanize.Bytes(uint64(len(entry.Body))))
	return err
}

// ExecuteServe installs and activates the worker, then serves the proxy until ctx is done.
// When install keeps failing but an earlier install of the same cache exists,
// the proxy starts anyway and serves from it.
func ExecuteServe(ctx context.Context, cfg *contract.Config, mgr contract.CacheManager, logger *zap.Logger) error {
	rec := metrics.New()
	w, err := newWorker(cfg, mgr, worker.WithRecorder(rec))
	if err != nil {
		return err
	}

	n, err := installWithRetry(ctx, w, cfg.InstallRetries, cfg.InstallRetryDelay, func(attempt int, err error) {
		logger.Warn("install failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", cfg.InstallRetryDelay),
			zap.Error(err))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		resumed, resumeErr := w.Resume(ctx)
		if resumeErr != nil || !resumed {
			return err
		}
		logger.Warn("install failed, serving previously installed cache",
			zap.String("cache", cfg.CacheName), zap.Error(err))
	} else {
		logger.Info("installed", zap.String("cache", cfg.CacheName), zap.Int("assets", n))
	}

	deleted, err := w.Activate(ctx)
	if err != nil {
		logger.Warn("activate failed", zap.Error(err))
	} else {
		logger.Info("activated", zap.String("cache", cfg.CacheName), zap.Strings("deleted", deleted))
	}

	srv := proxy.NewServer(w, rec.Handler(), logger)
	return srv.ListenAndServe(ctx, cfg.ListenAddr, shutdownTimeout)
}

// installWithRetry runs Install up to retries+1 times, waiting delay between attempts.
func installWithRetry(ctx context.Context, w *worker.Worker, retries int, delay time.Duration, onRetry func(attempt int, err error)) (int, error) {
	for attempt := 1; ; attempt++ {
		n, err := w.Install(ctx)
		if err == nil {
			return n, nil
		}
		if attempt > retries || ctx.Err() != nil {
			return 0, err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return 0, err
		case <-time.After(delay):
		}
	}
}

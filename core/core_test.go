package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/internal/iocache"
	"github.com/nutrifyke/offlinecache/internal/proxy"
	"github.com/nutrifyke/offlinecache/internal/worker"
	"github.com/nutrifyke/offlinecache/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	upstream *httptest.Server
	failures atomic.Int32 // Remaining requests to "/" that fail with 500
	cfg      *contract.Config
	mgr      *iocache.MockCacheManager
	storage  contract.CacheStorage
	out      *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{out: &bytes.Buffer{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if env.failures.Load() > 0 {
			env.failures.Add(-1)
			http.Error(w, "warming up", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>home</html>")
	})
	mux.HandleFunc("/static/manifest.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"nutrifyke"}`)
	})
	mux.HandleFunc("/static/sw.js", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "// sw")
	})
	env.upstream = httptest.NewServer(mux)
	t.Cleanup(env.upstream.Close)

	origin, err := url.Parse(env.upstream.URL)
	require.NoError(t, err)
	manifest, err := contract.ResolveManifest(origin, schema.DefaultAssetManifest)
	require.NoError(t, err)
	env.cfg = &contract.Config{
		Origin:            origin,
		CacheName:         schema.DefaultCacheName,
		Manifest:          manifest,
		FetchTimeout:      time.Second,
		InstallRetryDelay: time.Millisecond,
		ListenAddr:        "127.0.0.1:0",
	}

	storage, err := iocache.NewCacheStorage(schema.SQLiteBackend, filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	env.storage = storage
	env.mgr = &iocache.MockCacheManager{}
	env.mgr.On("GetCacheStorage").Return(storage)

	prev := stdout
	stdout = env.out
	t.Cleanup(func() { stdout = prev })
	return env
}

func TestInstallWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		env := newTestEnv(t)
		env.failures.Store(2)
		w, err := newWorker(env.cfg, env.mgr)
		require.NoError(t, err)

		var attempts []int
		n, err := installWithRetry(ctx, w, 3, time.Millisecond, func(attempt int, _ error) {
			attempts = append(attempts, attempt)
		})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []int{1, 2}, attempts)
	})

	t.Run("gives up after retries", func(t *testing.T) {
		env := newTestEnv(t)
		env.failures.Store(5)
		w, err := newWorker(env.cfg, env.mgr)
		require.NoError(t, err)

		_, err = installWithRetry(ctx, w, 1, time.Millisecond, nil)
		var installErr *worker.InstallError
		require.True(t, errors.As(err, &installErr))
		assert.Equal(t, int32(3), env.failures.Load())
	})

	t.Run("stops when canceled", func(t *testing.T) {
		env := newTestEnv(t)
		env.failures.Store(5)
		w, err := newWorker(env.cfg, env.mgr)
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		_, err = installWithRetry(cctx, w, 10, time.Hour, func(int, error) { cancel() })
		assert.Error(t, err)
	})
}

func TestNewWorkerNeedsStorage(t *testing.T) {
	_, err := newWorker(&contract.Config{CacheName: "v1"}, nil)
	assert.ErrorContains(t, err, "not initialized")
}

func TestExecuteInstall(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, ExecuteInstall(context.Background(), env.cfg, env.mgr))
	assert.Equal(t, "Installed 3 assets into cache nutrifyke-v1\n", env.out.String())

	status, err := env.storage.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, 3, status.TotalEntries)
}

func TestExecuteActivate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	err := ExecuteActivate(ctx, env.cfg, env.mgr)
	assert.ErrorIs(t, err, worker.ErrNotInstalled)

	_, err = env.storage.Open(ctx, "nutrifyke-v0")
	require.NoError(t, err)
	require.NoError(t, ExecuteInstall(ctx, env.cfg, env.mgr))
	env.out.Reset()

	require.NoError(t, ExecuteActivate(ctx, env.cfg, env.mgr))
	assert.Equal(t, "Deleted 1 stale caches: nutrifyke-v0\n", env.out.String())

	env.out.Reset()
	require.NoError(t, ExecuteActivate(ctx, env.cfg, env.mgr))
	assert.Equal(t, "No stale caches found.\n", env.out.String())
}

func TestExecuteCacheExport(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.cfg.Output = schema.CSVOut
	env.cfg.OutputFile = filepath.Join(t.TempDir(), "entries.csv")
	err := ExecuteCacheExport(ctx, env.cfg, env.mgr)
	assert.ErrorContains(t, err, "no cache entries")

	require.NoError(t, ExecuteInstall(ctx, env.cfg, env.mgr))
	require.NoError(t, ExecuteCacheExport(ctx, env.cfg, env.mgr))
	data, err := os.ReadFile(env.cfg.OutputFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "nutrifyke-v1,"+env.upstream.URL+"/"))

	storage := &iocache.MockCacheStorage{}
	storage.On("ListEntries", ctx).Return(nil, errors.New("boom"))
	mgr := &iocache.MockCacheManager{}
	mgr.On("GetCacheStorage").Return(storage)
	assert.ErrorContains(t, ExecuteCacheExport(ctx, env.cfg, mgr), "boom")
}

func TestExecuteFetch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, ExecuteInstall(ctx, env.cfg, env.mgr))

	env.out.Reset()
	require.NoError(t, ExecuteFetch(ctx, env.cfg, env.mgr, "/static/manifest.json"))
	assert.Contains(t, env.out.String(), "Source: network")
	assert.Contains(t, env.out.String(), "Status: 200 OK")
	assert.Contains(t, env.out.String(), "Type:   application/json")

	env.upstream.Close()

	env.out.Reset()
	require.NoError(t, ExecuteFetch(ctx, env.cfg, env.mgr, "/"))
	assert.Contains(t, env.out.String(), "Source: cache")
	assert.Contains(t, env.out.String(), "Size:   17 B")

	env.out.Reset()
	err := ExecuteFetch(ctx, env.cfg, env.mgr, "/unknown.png")
	assert.ErrorIs(t, err, worker.ErrNoMatch)
	assert.Contains(t, env.out.String(), "Source: miss")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func runServe(t *testing.T, env *testEnv) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	env.cfg.ListenAddr = freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ExecuteServe(ctx, env.cfg, env.mgr, zap.NewNop()) }()
	return "http://" + env.cfg.ListenAddr, cancel, done
}

func waitFor(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
		return nil
	}
}

func TestExecuteServe(t *testing.T) {
	t.Run("serves through the proxy", func(t *testing.T) {
		env := newTestEnv(t)
		base, cancel, done := runServe(t, env)

		require.Eventually(t, func() bool {
			resp, err := http.Get(base + proxy.HealthPath)
			if err != nil {
				return false
			}
			_ = resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}, 5*time.Second, 20*time.Millisecond)

		env.upstream.Close()
		resp, err := http.Get(base + "/")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		assert.Equal(t, "<html>home</html>", string(body))
		assert.Equal(t, worker.CacheHeaderHit, resp.Header.Get(worker.CacheHeader))

		cancel()
		assert.NoError(t, waitFor(t, done))
	})

	t.Run("fails without any installed cache", func(t *testing.T) {
		env := newTestEnv(t)
		env.upstream.Close()
		_, cancel, done := runServe(t, env)
		defer cancel()

		var installErr *worker.InstallError
		assert.True(t, errors.As(waitFor(t, done), &installErr))
	})

	t.Run("falls back to an earlier install", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, ExecuteInstall(context.Background(), env.cfg, env.mgr))
		env.upstream.Close()
		base, cancel, done := runServe(t, env)

		require.Eventually(t, func() bool {
			resp, err := http.Get(base + "/static/sw.js")
			if err != nil {
				return false
			}
			_ = resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}, 5*time.Second, 20*time.Millisecond)

		cancel()
		assert.NoError(t, waitFor(t, done))
	})

	t.Run("failed upgrade keeps the previous generation", func(t *testing.T) {
		ctx := context.Background()
		env := newTestEnv(t)
		require.NoError(t, ExecuteInstall(ctx, env.cfg, env.mgr))
		env.upstream.Close()

		env.cfg.CacheName = "nutrifyke-v2"
		_, cancel, done := runServe(t, env)
		defer cancel()
		var installErr *worker.InstallError
		assert.True(t, errors.As(waitFor(t, done), &installErr))

		err := ExecuteActivate(ctx, env.cfg, env.mgr)
		assert.ErrorIs(t, err, worker.ErrNotInstalled)

		names, err := env.storage.Keys(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, schema.DefaultCacheName)
	})
}

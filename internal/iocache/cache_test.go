package iocache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://example.test"

var testManifest = []string{
	testOrigin + "/",
	testOrigin + "/static/manifest.json",
	testOrigin + "/static/sw.js",
}

// staticFetcher serves fixed bodies keyed by URL and fails everything else.
func staticFetcher(bodies map[string]string, calls *atomic.Int32) contract.Fetcher {
	return contract.FetcherFunc(func(_ context.Context, req *http.Request) (*http.Response, error) {
		if calls != nil {
			calls.Add(1)
		}
		body, ok := bodies[req.URL.String()]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/plain"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    req,
		}, nil
	})
}

func manifestBodies() map[string]string {
	return map[string]string{
		testOrigin + "/":                     "<html>home</html>",
		testOrigin + "/static/manifest.json": `{"name":"nutrifyke"}`,
		testOrigin + "/static/sw.js":         "self.addEventListener('fetch', () => {})",
	}
}

func newTestStorage(t *testing.T) *CacheStorageImpl {
	t.Helper()
	storage, err := NewCacheStorage(schema.SQLiteBackend, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestCacheAddAll(t *testing.T) {
	ctx := context.Background()

	t.Run("stores every asset", func(t *testing.T) {
		storage := newTestStorage(t)
		cache, err := storage.Open(ctx, schema.DefaultCacheName)
		require.NoError(t, err)

		require.NoError(t, cache.AddAll(ctx, staticFetcher(manifestBodies(), nil), testManifest))

		keys, err := cache.Keys(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, testManifest, keys)

		for url, body := range manifestBodies() {
			entry, err := cache.Match(ctx, url)
			require.NoError(t, err, url)
			assert.Equal(t, http.StatusOK, entry.Status)
			assert.Equal(t, body, string(entry.Body))
			assert.Equal(t, "text/plain", entry.Header.Get("Content-Type"))
			assert.False(t, entry.StoredAt.IsZero())
		}
	})

	t.Run("transport failure writes nothing", func(t *testing.T) {
		storage := newTestStorage(t)
		cache, err := storage.Open(ctx, schema.DefaultCacheName)
		require.NoError(t, err)

		bodies := manifestBodies()
		delete(bodies, testOrigin+"/static/sw.js")
		err = cache.AddAll(ctx, staticFetcher(bodies, nil), testManifest)
		require.Error(t, err)

		var assetErr *contract.AssetError
		require.True(t, errors.As(err, &assetErr))
		assert.Equal(t, testOrigin+"/static/sw.js", assetErr.URL)

		keys, err := cache.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("non-2xx status fails the batch", func(t *testing.T) {
		storage := newTestStorage(t)
		cache, err := storage.Open(ctx, schema.DefaultCacheName)
		require.NoError(t, err)

		fetcher := contract.FetcherFunc(func(_ context.Context, req *http.Request) (*http.Response, error) {
			status := http.StatusOK
			if strings.HasSuffix(req.URL.Path, "manifest.json") {
				status = http.StatusNotFound
			}
			return &http.Response{StatusCode: status, Header: http.Header{}, Body: io.NopCloser(strings.NewReader("x"))}, nil
		})
		err = cache.AddAll(ctx, fetcher, testManifest)

		var assetErr *contract.AssetError
		require.True(t, errors.As(err, &assetErr))
		assert.Equal(t, http.StatusNotFound, assetErr.StatusCode)
		assert.Contains(t, err.Error(), "unexpected status 404")

		keys, err := cache.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("duplicate requests are rejected before fetching", func(t *testing.T) {
		storage := newTestStorage(t)
		cache, err := storage.Open(ctx, schema.DefaultCacheName)
		require.NoError(t, err)

		var calls atomic.Int32
		err = cache.AddAll(ctx, staticFetcher(manifestBodies(), &calls), []string{testOrigin + "/", testOrigin + "/"})
		assert.ErrorContains(t, err, "duplicate request")
		assert.Zero(t, calls.Load())
	})

	t.Run("repeating the add is idempotent", func(t *testing.T) {
		storage := newTestStorage(t)
		cache, err := storage.Open(ctx, schema.DefaultCacheName)
		require.NoError(t, err)

		fetcher := staticFetcher(manifestBodies(), nil)
		require.NoError(t, cache.AddAll(ctx, fetcher, testManifest))
		require.NoError(t, cache.AddAll(ctx, fetcher, testManifest))

		keys, err := cache.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, len(testManifest))

		status, err := storage.GetStatus()
		require.NoError(t, err)
		assert.Equal(t, len(testManifest), status.TotalEntries)
	})

	t.Run("empty list is a no-op", func(t *testing.T) {
		storage := newTestStorage(t)
		cache, err := storage.Open(ctx, schema.DefaultCacheName)
		require.NoError(t, err)
		assert.NoError(t, cache.AddAll(ctx, staticFetcher(nil, nil), nil))
	})
}

func TestCachePutMatchDelete(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	cache, err := storage.Open(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", cache.Name())

	key := testOrigin + "/index.html"
	_, err = cache.Match(ctx, key)
	assert.ErrorIs(t, err, contract.ErrCacheMiss)

	require.NoError(t, cache.Put(ctx, schema.CachedResponse{
		URL:    key,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte("first"),
	}))
	require.NoError(t, cache.Put(ctx, schema.CachedResponse{
		URL:    key,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte("second"),
	}))

	entry, err := cache.Match(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, entry.URL)
	assert.Equal(t, "second", string(entry.Body))

	// Entries are scoped by cache name.
	other, err := storage.Open(ctx, "v2")
	require.NoError(t, err)
	_, err = other.Match(ctx, key)
	assert.ErrorIs(t, err, contract.ErrCacheMiss)

	deleted, err := cache.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = cache.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = cache.Match(ctx, key)
	assert.ErrorIs(t, err, contract.ErrCacheMiss)
}

func TestCacheStorageNames(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	_, err := storage.Open(ctx, "")
	assert.Error(t, err)

	has, err := storage.Has(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, has)

	var tick atomic.Int64
	storage.now = func() time.Time { return time.Unix(1700000000+tick.Add(1), 0) }

	v1, err := storage.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, v1.AddAll(ctx, staticFetcher(manifestBodies(), nil), testManifest))
	_, err = storage.Open(ctx, "v2")
	require.NoError(t, err)
	// Reopening keeps the original creation order.
	_, err = storage.Open(ctx, "v1")
	require.NoError(t, err)

	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, names)

	has, err = storage.Has(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, has)

	deleted, err := storage.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = storage.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, deleted)

	names, err = storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, names)

	// Deleting a cache drops its entries too.
	records, err := storage.ListEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCacheStoragePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	storage, err := NewCacheStorage(schema.SQLiteBackend, path)
	require.NoError(t, err)
	cache, err := storage.Open(ctx, schema.DefaultCacheName)
	require.NoError(t, err)
	require.NoError(t, cache.AddAll(ctx, staticFetcher(manifestBodies(), nil), testManifest))
	require.NoError(t, storage.Close())

	reopened, err := NewCacheStorage(schema.SQLiteBackend, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	cache, err = reopened.Open(ctx, schema.DefaultCacheName)
	require.NoError(t, err)
	entry, err := cache.Match(ctx, testOrigin+"/")
	require.NoError(t, err)
	assert.Equal(t, "<html>home</html>", string(entry.Body))
}

func TestNoneBackend(t *testing.T) {
	ctx := context.Background()
	storage, err := NewCacheStorage(schema.NoneBackend, "")
	require.NoError(t, err)
	defer func() { _ = storage.Close() }()

	var calls atomic.Int32
	cache, err := storage.Open(ctx, schema.DefaultCacheName)
	require.NoError(t, err)

	// Assets are still fetched so install failures surface.
	require.NoError(t, cache.AddAll(ctx, staticFetcher(manifestBodies(), &calls), testManifest))
	assert.Equal(t, int32(len(testManifest)), calls.Load())

	_, err = cache.Match(ctx, testOrigin+"/")
	assert.ErrorIs(t, err, contract.ErrCacheMiss)

	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	has, err := storage.Has(ctx, schema.DefaultCacheName)
	require.NoError(t, err)
	assert.False(t, has)

	status, err := storage.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, "none", status.Backend)
	assert.False(t, status.Connected)
}

func TestGetStatus(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	status, err := storage.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", status.Backend)
	assert.True(t, status.Connected)
	assert.Zero(t, status.TotalEntries)
	assert.True(t, status.LastEntryTime.IsZero())

	base := time.UnixMilli(1700000000000)
	var tick atomic.Int64
	storage.now = func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Minute)
	}

	old, err := storage.Open(ctx, "nutrifyke-v0")
	require.NoError(t, err)
	require.NoError(t, old.Put(ctx, schema.CachedResponse{URL: testOrigin + "/", Status: 200, Body: []byte("old")}))

	current, err := storage.Open(ctx, schema.DefaultCacheName)
	require.NoError(t, err)
	require.NoError(t, current.AddAll(ctx, staticFetcher(manifestBodies(), nil), testManifest))

	status, err = storage.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, 4, status.TotalEntries)
	require.Len(t, status.Caches, 2)
	assert.Equal(t, "nutrifyke-v0", status.Caches[0].Name)
	assert.Equal(t, 1, status.Caches[0].Entries)
	assert.Equal(t, int64(3), status.Caches[0].BodyBytes)
	assert.Equal(t, schema.DefaultCacheName, status.Caches[1].Name)
	assert.Equal(t, 3, status.Caches[1].Entries)
	assert.True(t, status.OldestEntryTime.Before(status.LastEntryTime))
	assert.Positive(t, status.TableSizeBytes)
}

func TestListEntries(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	cache, err := storage.Open(ctx, schema.DefaultCacheName)
	require.NoError(t, err)
	require.NoError(t, cache.AddAll(ctx, staticFetcher(manifestBodies(), nil), testManifest))

	records, err := storage.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, schema.DefaultCacheName, r.CacheName)
		assert.Equal(t, http.StatusOK, r.Status)
		assert.Equal(t, "text/plain", r.ContentType)
		assert.Equal(t, int64(len(manifestBodies()[r.URL])), r.BodyBytes)
	}
}

func TestCaching(t *testing.T) {
	t.Run("single setup", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "global.db")
		initOnce = sync.Once{}  // Reset for test
		closeOnce = sync.Once{} // Reset for test

		err := InitCaching(schema.SQLiteBackend, dbPath)
		assert.NoError(t, err, "Failed to initialize caching")
		assert.NotNil(t, Manager.GetCacheStorage(), "Cache storage should not be nil")

		CloseCaching()

		_, err = os.Stat(dbPath)
		assert.False(t, os.IsNotExist(err), "Database file should be created")
	})

	t.Run("idempotent setup", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "global.db")
		initOnce = sync.Once{}  // Reset for test
		closeOnce = sync.Once{} // Reset for test

		// Multiple initializations should be safe (sync.Once)
		assert.NoError(t, InitCaching(schema.SQLiteBackend, dbPath))
		assert.NoError(t, InitCaching(schema.SQLiteBackend, dbPath))
		assert.NoError(t, InitCaching(schema.SQLiteBackend, dbPath))

		// Multiple closes should be safe (sync.Once)
		CloseCaching()
		CloseCaching()
	})

	t.Run("none backend", func(t *testing.T) {
		initOnce = sync.Once{}  // Reset for test
		closeOnce = sync.Once{} // Reset for test

		assert.NoError(t, InitCaching(schema.NoneBackend, ""))
		assert.NotNil(t, Manager.GetCacheStorage())
		CloseCaching()
	})

	t.Run("invalid backend", func(t *testing.T) {
		initOnce = sync.Once{}  // Reset for test
		closeOnce = sync.Once{} // Reset for test

		err := InitCaching("bogus", "")
		assert.ErrorContains(t, err, "unsupported cache backend")
		CloseCaching()
	})
}

func TestClearCache(t *testing.T) {
	t.Run("sqlite removes the file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "clear.db")
		storage, err := NewCacheStorage(schema.SQLiteBackend, dbPath)
		require.NoError(t, err)
		require.NoError(t, storage.Close())

		require.NoError(t, ClearCache(schema.SQLiteBackend, dbPath, ""))
		_, err = os.Stat(dbPath)
		assert.True(t, os.IsNotExist(err))

		// Clearing twice is fine
		assert.NoError(t, ClearCache(schema.SQLiteBackend, dbPath, ""))
	})

	t.Run("sqlite needs a path", func(t *testing.T) {
		assert.Error(t, ClearCache(schema.SQLiteBackend, "", ""))
	})

	t.Run("none backend", func(t *testing.T) {
		assert.NoError(t, ClearCache(schema.NoneBackend, "", ""))
	})

	t.Run("unknown backend", func(t *testing.T) {
		assert.Error(t, ClearCache("bogus", "", ""))
	})
}

func TestMigrateCache(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")

	msg, err := MigrateCache(schema.SQLiteBackend, dbPath, -1)
	require.NoError(t, err)
	assert.Contains(t, msg, "to version 2")

	msg, err = MigrateCache(schema.SQLiteBackend, dbPath, -1)
	require.NoError(t, err)
	assert.Contains(t, msg, "already at the latest version")

	msg, err = MigrateCache(schema.SQLiteBackend, dbPath, 1)
	require.NoError(t, err)
	assert.Contains(t, msg, "from version 2 to version 1")

	msg, err = MigrateCache(schema.SQLiteBackend, dbPath, 0)
	require.NoError(t, err)
	assert.Contains(t, msg, "rolled back")

	_, err = MigrateCache(schema.NoneBackend, "", -1)
	assert.Error(t, err)
}

func TestQueryHelpers(t *testing.T) {
	assert.Equal(t, `"offline_caches"`, quoteTableName(cachesTable, schema.SQLiteBackend))
	assert.Equal(t, "`offline_caches`", quoteTableName(cachesTable, schema.MySQLBackend))
	assert.Equal(t, `"offline_caches"`, quoteTableName(cachesTable, schema.PostgreSQLBackend))

	query := "SELECT 1 FROM t WHERE a = ? AND b = ?"
	assert.Equal(t, query, rebind(query, schema.SQLiteBackend))
	assert.Equal(t, query, rebind(query, schema.MySQLBackend))
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b = $2", rebind(query, schema.PostgreSQLBackend))
}

func TestPrintCacheStatus(t *testing.T) {
	status := schema.CacheStatus{
		Backend:      "sqlite",
		Connected:    true,
		TotalEntries: 4,
		Caches: []schema.NamedCacheStatus{
			{Name: "nutrifyke-v0", Entries: 1, BodyBytes: 3, CreatedAt: time.Unix(1700000000, 0)},
			{Name: "nutrifyke-v1", Entries: 3, BodyBytes: 2048, CreatedAt: time.Unix(1700000100, 0)},
		},
		LastEntryTime:   time.Unix(1700000100, 0),
		OldestEntryTime: time.Unix(1700000000, 0),
		TableSizeBytes:  8192,
	}

	var buf bytes.Buffer
	require.NoError(t, PrintCacheStatus(&buf, status, "nutrifyke-v1", false))
	out := buf.String()
	assert.Contains(t, out, "Cache Backend: sqlite")
	assert.Contains(t, out, "Total Entries: 4")
	assert.Contains(t, out, "nutrifyke-v0")
	assert.Contains(t, out, "stale")
	assert.Contains(t, out, "current")

	buf.Reset()
	require.NoError(t, PrintCacheStatus(&buf, schema.CacheStatus{Backend: "none"}, "nutrifyke-v1", false))
	assert.Contains(t, buf.String(), "Connected: false")
	assert.NotContains(t, buf.String(), "Total Entries")
}

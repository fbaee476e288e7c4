// Package iocache is the durable storage of named offline caches.
package iocache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-sql-driver/mysql"   // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/internal/netfetch"
	"github.com/nutrifyke/offlinecache/schema"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite" // SQLite driver
)

// Table names for cache storage.
const (
	cachesTable  = "offline_caches"
	entriesTable = "offline_cache_entries"
)

// CacheStorageImpl handles durable storage of named caches using various database backends.
type CacheStorageImpl struct {
	db         *sql.DB
	backend    schema.DatabaseBackend
	driverName string
	connStr    string
	now        func() time.Time
}

var _ contract.CacheStorage = &CacheStorageImpl{} // Compile-time check

// openDB opens and pings the database for backend.
func openDB(backend schema.DatabaseBackend, connStr string) (*sql.DB, string, error) {
	var db *sql.DB
	var err error
	var driverName string

	switch backend {
	case schema.SQLiteBackend:
		driverName = "sqlite"
		dbPath := connStr
		if dbPath == "" {
			dbPath = GetDBFilePath()
		}
		db, err = sql.Open(driverName, dbPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to initialize SQLite cache at %q: %w. Ensure the directory is writable", dbPath, err)
		}
		// Limit SQLite to a single open connection to avoid "database is locked" errors
		db.SetMaxOpenConns(1)

	case schema.MySQLBackend:
		// connStr should be:
		// user:password@tcp(host:port)/dbname
		driverName = "mysql"
		db, err = sql.Open(driverName, connStr)
		if err != nil {
			return nil, "", fmt.Errorf("failed to connect to MySQL cache: %w. Check connection format: user:password@tcp(host:port)/dbname", err)
		}

	case schema.PostgreSQLBackend:
		// connStr should be:
		// host=localhost port=5432 user=postgres password=mysecretpassword dbname=postgres
		driverName = "pgx"
		db, err = sql.Open(driverName, connStr)
		if err != nil {
			return nil, "", fmt.Errorf("failed to connect to PostgreSQL cache: %w. Check connection format: host=localhost port=5432 user=postgres dbname=mydb", err)
		}

	default:
		return nil, "", fmt.Errorf("unsupported cache backend: %s. Must be sqlite, mysql, postgresql, or none", backend)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("failed to connect to %s database. Check that the server is running and connection parameters are valid: %w", backend, err)
	}
	return db, driverName, nil
}

// NewCacheStorage initializes and returns a new CacheStorage based on the backend type.
// The schema is brought up to date with the embedded migrations.
func NewCacheStorage(backend schema.DatabaseBackend, connStr string) (*CacheStorageImpl, error) {
	if backend == schema.NoneBackend {
		// No-op storage for disabled caching
		return &CacheStorageImpl{backend: backend, connStr: connStr, now: time.Now}, nil
	}

	db, driverName, err := openDB(backend, connStr)
	if err != nil {
		return nil, err
	}

	if err := migrateUp(db, backend); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &CacheStorageImpl{
		db:         db,
		backend:    backend,
		driverName: driverName,
		connStr:    connStr,
		now:        time.Now,
	}, nil
}

// disabled reports whether this storage never persists anything.
func (s *CacheStorageImpl) disabled() bool {
	return s.backend == schema.NoneBackend || s.db == nil
}

// q quotes the table names and rebinds placeholders for the backend.
func (s *CacheStorageImpl) q(format string) string {
	return rebind(fmt.Sprintf(format,
		quoteTableName(cachesTable, s.backend),
		quoteTableName(entriesTable, s.backend),
	), s.backend)
}

// Open implements contract.CacheStorage.
func (s *CacheStorageImpl) Open(ctx context.Context, name string) (contract.Cache, error) {
	if name == "" {
		return nil, fmt.Errorf("cache name cannot be empty")
	}
	if !s.disabled() {
		if _, err := s.db.ExecContext(ctx, s.getCreateCacheQuery(), name, s.now().UnixMilli()); err != nil {
			return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
		}
	}
	return &cacheImpl{storage: s, name: name}, nil
}

// Has implements contract.CacheStorage.
func (s *CacheStorageImpl) Has(ctx context.Context, name string) (bool, error) {
	if s.disabled() {
		return false, nil
	}
	var n int
	row := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM %[1]s WHERE cache_name = ?`), name)
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete implements contract.CacheStorage.
func (s *CacheStorageImpl) Delete(ctx context.Context, name string) (bool, error) {
	if s.disabled() {
		return false, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM %[2]s WHERE cache_name = ?`), name); err != nil {
		return false, fmt.Errorf("failed to delete entries of cache %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM %[1]s WHERE cache_name = ?`), name)
	if err != nil {
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Keys implements contract.CacheStorage.
func (s *CacheStorageImpl) Keys(ctx context.Context) ([]string, error) {
	if s.disabled() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT cache_name FROM %[1]s ORDER BY created_at, cache_name`))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ListEntries implements contract.CacheStorage.
func (s *CacheStorageImpl) ListEntries(ctx context.Context) ([]schema.CacheEntryRecord, error) {
	if s.disabled() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT cache_name, request_url, status, headers, LENGTH(body), stored_at
		FROM %[2]s ORDER BY cache_name, request_url`))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []schema.CacheEntryRecord
	for rows.Next() {
		var rec schema.CacheEntryRecord
		var rawHeaders []byte
		var storedAt int64
		if err := rows.Scan(&rec.CacheName, &rec.URL, &rec.Status, &rawHeaders, &rec.BodyBytes, &storedAt); err != nil {
			return nil, err
		}
		header, err := decodeHeader(rawHeaders)
		if err != nil {
			return nil, fmt.Errorf("corrupt headers for %s: %w", rec.URL, err)
		}
		rec.ContentType = header.Get("Content-Type")
		rec.StoredAt = time.UnixMilli(storedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying DB connection.
func (s *CacheStorageImpl) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// getCreateCacheQuery returns the insert-if-absent query for a cache row.
func (s *CacheStorageImpl) getCreateCacheQuery() string {
	switch s.backend {
	case schema.MySQLBackend:
		return s.q(`INSERT IGNORE INTO %[1]s (cache_name, created_at) VALUES (?, ?)`)
	case schema.PostgreSQLBackend:
		return s.q(`INSERT INTO %[1]s (cache_name, created_at) VALUES (?, ?) ON CONFLICT (cache_name) DO NOTHING`)
	default: // SQLite
		return s.q(`INSERT OR IGNORE INTO %[1]s (cache_name, created_at) VALUES (?, ?)`)
	}
}

// getUpsertQuery returns the UPSERT query for an entry row.
func (s *CacheStorageImpl) getUpsertQuery() string {
	switch s.backend {
	case schema.MySQLBackend:
		return s.q(`INSERT INTO %[2]s (cache_name, request_url, status, headers, body, stored_at) VALUES (?, ?, ?, ?, ?, ?) AS new
			ON DUPLICATE KEY UPDATE status = new.status, headers = new.headers, body = new.body, stored_at = new.stored_at`)
	case schema.PostgreSQLBackend:
		return s.q(`INSERT INTO %[2]s (cache_name, request_url, status, headers, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (cache_name, request_url) DO UPDATE SET status = EXCLUDED.status, headers = EXCLUDED.headers, body = EXCLUDED.body, stored_at = EXCLUDED.stored_at`)
	default: // SQLite
		return s.q(`INSERT OR REPLACE INTO %[2]s (cache_name, request_url, status, headers, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)`)
	}
}

// putEntries writes entries for cache name inside a single transaction.
func (s *CacheStorageImpl) putEntries(ctx context.Context, name string, entries []schema.CachedResponse) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.getCreateCacheQuery(), name, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to create cache %s: %w", name, err)
	}
	upsert := s.getUpsertQuery()
	for _, e := range entries {
		headers, err := json.Marshal(e.Header)
		if err != nil {
			return fmt.Errorf("failed to encode headers for %s: %w", e.URL, err)
		}
		if _, err := tx.ExecContext(ctx, upsert, name, e.URL, e.Status, headers, e.Body, e.StoredAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to store %s: %w", e.URL, err)
		}
	}
	return tx.Commit()
}

// cacheImpl is one named cache backed by CacheStorageImpl.
type cacheImpl struct {
	storage *CacheStorageImpl
	name    string
}

var _ contract.Cache = &cacheImpl{} // Compile-time check

// Name implements contract.Cache.
func (c *cacheImpl) Name() string { return c.name }

// AddAll implements contract.Cache. Every URL is fetched before anything is
// written; a single failure leaves the cache untouched.
func (c *cacheImpl) AddAll(ctx context.Context, fetcher contract.Fetcher, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			return fmt.Errorf("duplicate request %s in bulk add", u)
		}
		seen[u] = struct{}{}
	}

	entries := make([]schema.CachedResponse, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			entry, err := c.storage.fetchEntry(gctx, fetcher, u)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if c.storage.disabled() {
		return nil
	}
	return c.storage.putEntries(ctx, c.name, entries)
}

// Put implements contract.Cache.
func (c *cacheImpl) Put(ctx context.Context, entry schema.CachedResponse) error {
	if c.storage.disabled() {
		return nil
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = c.storage.now()
	}
	return c.storage.putEntries(ctx, c.name, []schema.CachedResponse{entry})
}

// Match implements contract.Cache.
func (c *cacheImpl) Match(ctx context.Context, key string) (schema.CachedResponse, error) {
	if c.storage.disabled() {
		return schema.CachedResponse{}, contract.ErrCacheMiss
	}
	var entry schema.CachedResponse
	var rawHeaders []byte
	var storedAt int64
	row := c.storage.db.QueryRowContext(ctx,
		c.storage.q(`SELECT status, headers, body, stored_at FROM %[2]s WHERE cache_name = ? AND request_url = ?`),
		c.name, key)
	if err := row.Scan(&entry.Status, &rawHeaders, &entry.Body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schema.CachedResponse{}, contract.ErrCacheMiss
		}
		return schema.CachedResponse{}, err
	}
	header, err := decodeHeader(rawHeaders)
	if err != nil {
		return schema.CachedResponse{}, fmt.Errorf("corrupt headers for %s: %w", key, err)
	}
	entry.URL = key
	entry.Header = header
	entry.StoredAt = time.UnixMilli(storedAt)
	return entry, nil
}

// Keys implements contract.Cache.
func (c *cacheImpl) Keys(ctx context.Context) ([]string, error) {
	if c.storage.disabled() {
		return nil, nil
	}
	rows, err := c.storage.db.QueryContext(ctx,
		c.storage.q(`SELECT request_url FROM %[2]s WHERE cache_name = ? ORDER BY request_url`), c.name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete implements contract.Cache.
func (c *cacheImpl) Delete(ctx context.Context, key string) (bool, error) {
	if c.storage.disabled() {
		return false, nil
	}
	res, err := c.storage.db.ExecContext(ctx,
		c.storage.q(`DELETE FROM %[2]s WHERE cache_name = ? AND request_url = ?`), c.name, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// fetchEntry fetches one asset and captures it. Only 2xx responses are accepted.
func (s *CacheStorageImpl) fetchEntry(ctx context.Context, fetcher contract.Fetcher, rawURL string) (schema.CachedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return schema.CachedResponse{}, &contract.AssetError{URL: rawURL, Err: err}
	}
	resp, err := fetcher.Fetch(ctx, req)
	if err != nil {
		return schema.CachedResponse{}, &contract.AssetError{URL: rawURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return schema.CachedResponse{}, &contract.AssetError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	entry, err := netfetch.Capture(resp, contract.RequestKey(req), s.now())
	if err != nil {
		return schema.CachedResponse{}, &contract.AssetError{URL: rawURL, Err: err}
	}
	return entry, nil
}

// decodeHeader parses the JSON encoded header column.
func decodeHeader(raw []byte) (http.Header, error) {
	header := http.Header{}
	if len(raw) == 0 {
		return header, nil
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, err
	}
	return header, nil
}

// GetStatus returns status information about the cache storage.
func (s *CacheStorageImpl) GetStatus() (schema.CacheStatus, error) {
	status := schema.CacheStatus{
		Backend:   string(s.backend),
		Connected: s.db != nil,
	}
	if s.disabled() {
		return status, nil
	}

	row := s.db.QueryRow(s.q(`SELECT COUNT(*) FROM %[2]s`))
	if err := row.Scan(&status.TotalEntries); err != nil {
		return status, fmt.Errorf("failed to get total entries: %w", err)
	}

	rows, err := s.db.Query(s.q(`SELECT c.cache_name, c.created_at, COUNT(e.request_url), COALESCE(SUM(LENGTH(e.body)), 0)
		FROM %[1]s c LEFT JOIN %[2]s e ON e.cache_name = c.cache_name
		GROUP BY c.cache_name, c.created_at ORDER BY c.created_at, c.cache_name`))
	if err != nil {
		return status, fmt.Errorf("failed to list caches: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var named schema.NamedCacheStatus
		var createdAt int64
		if err := rows.Scan(&named.Name, &createdAt, &named.Entries, &named.BodyBytes); err != nil {
			return status, fmt.Errorf("failed to scan cache summary: %w", err)
		}
		named.CreatedAt = time.UnixMilli(createdAt)
		status.Caches = append(status.Caches, named)
	}
	if err := rows.Err(); err != nil {
		return status, err
	}

	if status.TotalEntries > 0 {
		var lastTs, oldestTs int64
		row = s.db.QueryRow(s.q(`SELECT MAX(stored_at), MIN(stored_at) FROM %[2]s`))
		if err := row.Scan(&lastTs, &oldestTs); err != nil {
			return status, fmt.Errorf("failed to get entry times: %w", err)
		}
		status.LastEntryTime = time.UnixMilli(lastTs)
		status.OldestEntryTime = time.UnixMilli(oldestTs)
	}

	status.TableSizeBytes = s.estimateSize(status)
	return status, nil
}

// estimateSize asks the backend for the on-disk size, falling back to the body total.
func (s *CacheStorageImpl) estimateSize(status schema.CacheStatus) int64 {
	var fallback int64
	for _, c := range status.Caches {
		fallback += c.BodyBytes
	}

	var size int64
	switch s.backend {
	case schema.SQLiteBackend:
		row := s.db.QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
		if err := row.Scan(&size); err != nil {
			return fallback
		}
	case schema.MySQLBackend:
		cfg, err := mysql.ParseDSN(s.connStr)
		if err != nil || cfg.DBName == "" {
			return fallback
		}
		row := s.db.QueryRow(`SELECT COALESCE(SUM(data_length + index_length), 0) FROM information_schema.tables
			WHERE table_schema = ? AND table_name IN (?, ?)`, cfg.DBName, cachesTable, entriesTable)
		if err := row.Scan(&size); err != nil {
			return fallback
		}
	case schema.PostgreSQLBackend:
		row := s.db.QueryRow("SELECT pg_total_relation_size($1) + pg_total_relation_size($2)", cachesTable, entriesTable)
		if err := row.Scan(&size); err != nil {
			return fallback
		}
	default:
		return fallback
	}
	return size
}

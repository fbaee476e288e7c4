package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/nutrifyke/offlinecache/core"
	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/internal/iocache"
	"github.com/nutrifyke/offlinecache/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// cacheSetup loads minimal configuration needed for cache operations.
// This is used by commands that need cache access without full shared setup.
func cacheSetup() error {
	if err := loadConfigFile(); err != nil {
		return err
	}

	// Get cache-related config values
	backend := schema.DatabaseBackend(strings.ToLower(viper.GetString("cache-backend")))
	connStr := viper.GetString("cache-db-connect")
	if _, ok := schema.ValidDatabaseBackends[backend]; !ok {
		return fmt.Errorf("invalid cache backend '%s'. must be sqlite, mysql, postgresql, none", backend)
	}

	// Basic validation for database backends
	if err := contract.ValidateDatabaseConnectionString(backend, connStr); err != nil {
		return err
	}

	cfg.CacheBackend = backend
	cfg.CacheDBConnect = connStr
	cfg.CacheName = viper.GetString("cache-name")

	useColors, err := contract.ParseBoolString(viper.GetString("color"))
	if err != nil {
		return fmt.Errorf("invalid color value: %w", err)
	}
	// Colors only make sense on a terminal
	cfg.UseColors = useColors && term.IsTerminal(int(os.Stdout.Fd()))

	return nil
}

// cacheSetupWrapper wraps cacheSetup to provide PreRunE for cache commands.
func cacheSetupWrapper(_ *cobra.Command, _ []string) error {
	if err := cacheSetup(); err != nil {
		return err
	}
	// Initialize caching with the loaded config
	if err := iocache.InitCaching(cfg.CacheBackend, cfg.CacheDBConnect); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	return nil
}

// cacheCmd focused on cache management.
//
// Note: Cache subcommands use minimal initialization (cacheSetup) instead of
// the full sharedSetup used by the worker commands. This avoids origin and
// manifest validation for simple storage operations.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage stored cache generations",
	Long: `Manage the durable storage that holds precached responses.

Each install writes into the cache named by --cache-name; older generations
stay until activate removes them.

Supported backends: SQLite (default), MySQL, PostgreSQL, or None (never stores anything)

Subcommands:
  status  - Show cache generations and storage info
  clear   - Remove all stored caches
  export  - Export entry metadata as text, csv, json or parquet
  migrate - Run storage schema migrations

Examples:
  # Check cache status
  offlinecache cache status

  # Start over with an empty store
  offlinecache cache clear`,
}

// cacheClearCmd clears the cache.
var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all stored cache generations",
	Long: `Delete all stored caches from the configured backend.

For SQLite: Deletes the database file
For MySQL/PostgreSQL: Drops the cache tables

Examples:
  # Clear SQLite cache (default)
  offlinecache cache clear

  # Clear MySQL cache (set connection string via env variable)
  OFFLINECACHE_CACHE_BACKEND=mysql OFFLINECACHE_CACHE_DB_CONNECT="..." offlinecache cache clear`,
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return cacheSetup()
	},
	Run: func(_ *cobra.Command, _ []string) {
		dbPath := cfg.CacheDBConnect
		if dbPath == "" {
			dbPath = contract.GetCacheDBFilePath()
		}
		if err := iocache.ClearCache(cfg.CacheBackend, dbPath, cfg.CacheDBConnect); err != nil {
			contract.LogFatal("Failed to clear cache", err)
		}
		fmt.Println("Cache cleared successfully.")
	},
}

// cacheStatusCmd shows cache status.
var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display cache generations and storage details",
	Long: `Show detailed information about the cache storage.

Displays:
- Backend type and connection status
- Total number of stored entries
- Newest and oldest entry timestamps
- One row per cache generation, marked current or stale

Examples:
  # Check cache status
  offlinecache cache status`,
	PreRunE: cacheSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		status, err := cacheManager.GetCacheStorage().GetStatus()
		if err != nil {
			contract.LogFatal("Failed to get cache status", err)
		}
		if err := iocache.PrintCacheStatus(os.Stdout, status, cfg.CacheName, cfg.UseColors); err != nil {
			contract.LogFatal("Failed to print cache status", err)
		}
	},
}

// cacheExportCmd exports entry metadata.
var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export cache entry metadata for BI tools and analytics",
	Long: `Export the URL, status, content type, size and timestamp of every stored entry.

Parquet output requires --output-file.

Examples:
  # Print a table
  offlinecache cache export

  # Use with DuckDB for analysis
  offlinecache cache export --output parquet --output-file entries.parquet
  duckdb -c "SELECT cache_name, count(*) FROM read_parquet('entries.parquet') GROUP BY 1"`,
	PreRunE: cacheSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		cfg.Output = schema.OutputMode(strings.ToLower(viper.GetString("output")))
		if _, ok := schema.ValidOutputModes[cfg.Output]; !ok {
			contract.LogFatal("Invalid output format", fmt.Errorf("'%s' must be text, csv, json or parquet", cfg.Output))
		}
		cfg.OutputFile = viper.GetString("output-file")
		cfg.Width = viper.GetInt("width")
		if err := core.ExecuteCacheExport(rootCtx, cfg, cacheManager); err != nil {
			contract.LogFatal("Failed to export cache entries", err)
		}
	},
}

// cacheMigrateCmd runs database migrations for the cache storage.
var cacheMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database schema migrations (upgrades/downgrades)",
	Long: `Manage database schema versions for the cache storage.

By default, migrates to the latest version. Use --target-version for specific versions.
Other commands migrate to the latest version automatically.

Examples:
  # Migrate to latest version (default)
  offlinecache cache migrate

  # Migrate to specific version
  offlinecache cache migrate --target-version 1

  # Rollback to initial state
  offlinecache cache migrate --target-version 0`,
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return cacheSetup()
	},
	Run: func(_ *cobra.Command, _ []string) {
		connStr := cfg.CacheDBConnect
		if cfg.CacheBackend == schema.SQLiteBackend && connStr == "" {
			connStr = contract.GetCacheDBFilePath()
		}
		msg, err := iocache.MigrateCache(cfg.CacheBackend, connStr, viper.GetInt("target-version"))
		if err != nil {
			contract.LogFatal("Failed to run migrations", err)
		}
		fmt.Println(msg)
	},
}

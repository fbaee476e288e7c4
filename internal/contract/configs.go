package contract

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/nutrifyke/offlinecache/schema"
)

// Default values for configuration.
const (
	DefaultOrigin            = "http://localhost:8000"
	DefaultListenAddr        = ":8080"
	DefaultFetchTimeout      = 10 * time.Second
	DefaultInstallRetryDelay = 5 * time.Second
	DefaultLogLevel          = "info"
)

// Config holds the runtime configuration for the offline cache.
// This struct is the "final, validated" config.
type Config struct {
	Origin      *url.URL // Upstream origin that assets and proxied requests resolve against
	CacheName   string   // Current cache generation
	Manifest    []string // Absolute, normalized asset URLs in manifest order
	OfflinePage string   // Absolute URL of the offline page, empty when disabled

	ListenAddr        string
	FetchTimeout      time.Duration
	InstallRetries    int
	InstallRetryDelay time.Duration
	LogLevel          string

	CacheBackend   schema.DatabaseBackend
	CacheDBConnect string // Please use env var as this is plaintext

	Output     schema.OutputMode
	OutputFile string
	UseColors  bool
	Width      int // Table width override, 0 means detect from the terminal
}

// ConfigRawInput holds the raw inputs from all sources (flags, env, config file).
// Viper unmarshals into this struct.
type ConfigRawInput struct {
	// --- Fields from rootCmd.PersistentFlags() ---
	Origin         string   `mapstructure:"origin"`
	CacheName      string   `mapstructure:"cache-name"`
	Manifest       []string `mapstructure:"manifest"`
	OfflinePage    string   `mapstructure:"offline-page"`
	FetchTimeout   string   `mapstructure:"fetch-timeout"`
	CacheBackend   string   `mapstructure:"cache-backend"`
	CacheDBConnect string   `mapstructure:"cache-db-connect"`
	Color          string   `mapstructure:"color"`

	// --- Fields from serveCmd.Flags() ---
	Listen            string `mapstructure:"listen"`
	InstallRetries    int    `mapstructure:"install-retries"`
	InstallRetryDelay string `mapstructure:"install-retry-delay"`
	LogLevel          string `mapstructure:"log-level"`

	// --- Fields from cacheExportCmd.Flags() ---
	Output     string `mapstructure:"output"`
	OutputFile string `mapstructure:"output-file"`
	Width      int    `mapstructure:"width"`
}

// Clone returns a deep copy of the Config struct.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Origin != nil {
		origin := *c.Origin
		clone.Origin = &origin
	}
	clone.Manifest = slices.Clone(c.Manifest)
	return &clone
}

// ProcessAndValidate performs all parsing and validation on the raw inputs
// and updates the final Config struct.
func ProcessAndValidate(cfg *Config, input *ConfigRawInput) error {
	if err := validateSimpleInputs(cfg, input); err != nil {
		return err
	}
	if err := processOriginAndManifest(cfg, input); err != nil {
		return err
	}
	if err := processDurations(cfg, input); err != nil {
		return err
	}
	return processCacheBackend(cfg, input)
}

// validateSimpleInputs processes and validates all non-URL related fields.
func validateSimpleInputs(cfg *Config, input *ConfigRawInput) error {
	cfg.CacheName = strings.TrimSpace(input.CacheName)
	if cfg.CacheName == "" {
		cfg.CacheName = schema.DefaultCacheName
	}
	if strings.ContainsAny(cfg.CacheName, " \t\n") {
		return fmt.Errorf("cache name %q must not contain whitespace", cfg.CacheName)
	}

	cfg.ListenAddr = input.Listen
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	if input.InstallRetries < 0 {
		return fmt.Errorf("install-retries must be zero or positive, got %d", input.InstallRetries)
	}
	cfg.InstallRetries = input.InstallRetries

	cfg.LogLevel = strings.ToLower(input.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	cfg.Output = schema.OutputMode(strings.ToLower(input.Output))
	if cfg.Output == "" {
		cfg.Output = schema.TextOut
	}
	if _, ok := schema.ValidOutputModes[cfg.Output]; !ok {
		return fmt.Errorf("invalid output format '%s'. must be text, csv, json or parquet", input.Output)
	}
	cfg.OutputFile = input.OutputFile
	if input.Width < 0 {
		return fmt.Errorf("width must be zero or positive, got %d", input.Width)
	}
	cfg.Width = input.Width

	colors := true
	if input.Color != "" {
		parsed, err := ParseBoolString(input.Color)
		if err != nil {
			return fmt.Errorf("invalid color value: %w", err)
		}
		colors = parsed
	}
	cfg.UseColors = colors
	return nil
}

// processOriginAndManifest resolves the origin and every manifest entry against it.
func processOriginAndManifest(cfg *Config, input *ConfigRawInput) error {
	raw := input.Origin
	if raw == "" {
		raw = DefaultOrigin
	}
	origin, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", raw, err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return fmt.Errorf("origin %q must use http or https", raw)
	}
	if origin.Host == "" {
		return fmt.Errorf("origin %q is missing a host", raw)
	}
	// Requests are proxied path for path, so the origin must be the site root.
	if (origin.Path != "" && origin.Path != "/") || origin.RawQuery != "" || origin.Fragment != "" {
		return fmt.Errorf("origin %q must not have a path, query or fragment", raw)
	}
	origin.Path = ""
	origin.RawPath = ""
	cfg.Origin = origin

	entries := input.Manifest
	if len(entries) == 0 {
		entries = schema.DefaultAssetManifest
	}
	manifest, err := ResolveManifest(origin, entries)
	if err != nil {
		return err
	}
	cfg.Manifest = manifest

	cfg.OfflinePage = ""
	if input.OfflinePage != "" {
		page, err := ResolveAssetURL(origin, input.OfflinePage)
		if err != nil {
			return fmt.Errorf("invalid offline page: %w", err)
		}
		if !slices.Contains(manifest, page) {
			return fmt.Errorf("offline page %s must be part of the asset manifest", page)
		}
		cfg.OfflinePage = page
	}
	return nil
}

// processDurations parses the duration strings.
func processDurations(cfg *Config, input *ConfigRawInput) error {
	var err error
	if cfg.FetchTimeout, err = parsePositiveDuration("fetch-timeout", input.FetchTimeout, DefaultFetchTimeout); err != nil {
		return err
	}
	if cfg.InstallRetryDelay, err = parsePositiveDuration("install-retry-delay", input.InstallRetryDelay, DefaultInstallRetryDelay); err != nil {
		return err
	}
	return nil
}

// processCacheBackend validates the storage backend and its connection string.
func processCacheBackend(cfg *Config, input *ConfigRawInput) error {
	cfg.CacheBackend = schema.DatabaseBackend(strings.ToLower(input.CacheBackend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = schema.SQLiteBackend
	}
	if _, ok := schema.ValidDatabaseBackends[cfg.CacheBackend]; !ok {
		return fmt.Errorf("invalid cache backend '%s'. must be sqlite, mysql, postgresql, none", input.CacheBackend)
	}
	cfg.CacheDBConnect = input.CacheDBConnect
	return ValidateDatabaseConnectionString(cfg.CacheBackend, cfg.CacheDBConnect)
}

func parsePositiveDuration(name, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, raw)
	}
	return d, nil
}

// ValidateDatabaseConnectionString validates the format of database connection strings
// for MySQL and PostgreSQL backends.
func ValidateDatabaseConnectionString(backend schema.DatabaseBackend, connStr string) error {
	switch backend {
	case schema.SQLiteBackend, schema.NoneBackend:
		return nil
	case schema.MySQLBackend:
		if connStr == "" {
			return fmt.Errorf("cache-db-connect is required when using %s backend", backend)
		}
		if !strings.Contains(connStr, "@tcp(") {
			return fmt.Errorf("MySQL connection string must contain '@tcp(' for host:port specification")
		}
		if !strings.Contains(connStr, "/") {
			return fmt.Errorf("MySQL connection string must contain '/' followed by database name")
		}
	case schema.PostgreSQLBackend:
		if connStr == "" {
			return fmt.Errorf("cache-db-connect is required when using %s backend", backend)
		}
		if !strings.Contains(connStr, "host=") {
			return fmt.Errorf("PostgreSQL connection string must contain 'host=' parameter")
		}
		if !strings.Contains(connStr, "dbname=") {
			return fmt.Errorf("PostgreSQL connection string must contain 'dbname=' parameter")
		}
	}
	return nil
}

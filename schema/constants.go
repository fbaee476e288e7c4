package schema

// Custom string types for type safety.
type (
	// OutputMode represents the format of the output.
	OutputMode string

	// DatabaseBackend represents the database backend for the cache storage.
	DatabaseBackend string

	// FetchSource records where a fetch event got its response from.
	FetchSource string

	// WorkerState is the lifecycle phase of an offline cache worker.
	WorkerState string
)

// All output modes supported.
const (
	CSVOut     OutputMode = "csv"
	TextOut    OutputMode = "text" // default
	JSONOut    OutputMode = "json"
	ParquetOut OutputMode = "parquet"
)

// All cache backends supported.
const (
	SQLiteBackend     DatabaseBackend = "sqlite" // default
	MySQLBackend      DatabaseBackend = "mysql"
	PostgreSQLBackend DatabaseBackend = "postgresql"
	NoneBackend       DatabaseBackend = "none"
)

// All fetch sources.
const (
	SourceNetwork FetchSource = "network"
	SourceCache   FetchSource = "cache"
	SourceMiss    FetchSource = "miss"  // network failed and nothing matched
	SourceError   FetchSource = "error" // network failed before the worker was installed
)

// Worker lifecycle phases, in order.
const (
	StateParsed     WorkerState = "parsed"
	StateInstalling WorkerState = "installing"
	StateInstalled  WorkerState = "installed"
	StateActivating WorkerState = "activating"
	StateActivated  WorkerState = "activated"
	StateRedundant  WorkerState = "redundant"
)

// Defaults mirror the asset list shipped with the web app.
const (
	DefaultCacheName = "nutrifyke-v1"
)

// DefaultAssetManifest is the ordered list of assets precached on install.
var DefaultAssetManifest = []string{
	"/",
	"/static/manifest.json",
	"/static/sw.js",
}

// ValidOutputModes lists all valid output modes.
var ValidOutputModes = map[OutputMode]struct{}{
	CSVOut:     {},
	TextOut:    {},
	JSONOut:    {},
	ParquetOut: {},
}

// ValidDatabaseBackends lists all valid cache backends.
var ValidDatabaseBackends = map[DatabaseBackend]struct{}{
	SQLiteBackend:     {},
	MySQLBackend:      {},
	PostgreSQLBackend: {},
	NoneBackend:       {},
}

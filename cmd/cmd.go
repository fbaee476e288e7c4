// Package cmd defines the command-line interface for offlinecache.
package cmd

import (
	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Call initConfig on Cobra's initialization
	cobra.OnInitialize(initConfig)

	// Add primary subcommands to the root command
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(mcpCmd)

	// Add the cache subcommands to the parent cache command
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheExportCmd)
	cacheCmd.AddCommand(cacheMigrateCmd)

	// Bind all persistent flags of rootCmd to Viper
	rootCmd.PersistentFlags().String("origin", contract.DefaultOrigin, "Upstream origin that assets and proxied requests resolve against")
	rootCmd.PersistentFlags().String("cache-name", schema.DefaultCacheName, "Name of the current cache generation; change it whenever the manifest changes")
	rootCmd.PersistentFlags().StringSlice("manifest", schema.DefaultAssetManifest, "Comma-separated asset URLs to precache on install")
	rootCmd.PersistentFlags().String("offline-page", "", "Manifest entry served to page loads that miss the cache while offline")
	rootCmd.PersistentFlags().String("fetch-timeout", contract.DefaultFetchTimeout.String(), "Timeout for each upstream request")
	rootCmd.PersistentFlags().String("cache-backend", string(schema.SQLiteBackend), "Cache backend: sqlite or mysql or postgresql or none")
	rootCmd.PersistentFlags().String("cache-db-connect", "", "Database connection string for sqlite/mysql/postgresql (e.g., user:pass@tcp(host:port)/dbname)")
	rootCmd.PersistentFlags().String("color", "yes", "Enable colored labels in output (yes/no/true/false/1/0)")
	rootCmd.PersistentFlags().Int("install-retries", 0, "Extra install attempts when precaching fails")
	rootCmd.PersistentFlags().String("install-retry-delay", contract.DefaultInstallRetryDelay.String(), "Wait between install attempts")
	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		contract.LogFatal("Error binding root flags", err)
	}

	// Bind all flags of serveCmd to Viper
	serveCmd.Flags().String("listen", contract.DefaultListenAddr, "Address the proxy listens on")
	serveCmd.Flags().String("log-level", contract.DefaultLogLevel, "Log level: debug or info or warn or error")
	if err := viper.BindPFlags(serveCmd.Flags()); err != nil {
		contract.LogFatal("Error binding serve flags", err)
	}

	// Bind all flags of cacheExportCmd to Viper
	cacheExportCmd.Flags().String("output", string(schema.TextOut), "Output format: text or csv or json or parquet")
	cacheExportCmd.Flags().String("output-file", "", "Optional path to write output to")
	cacheExportCmd.Flags().Int("width", 0, "Terminal width override for table output (0 means detect)")
	if err := viper.BindPFlags(cacheExportCmd.Flags()); err != nil {
		contract.LogFatal("Error binding cache export flags", err)
	}

	// Bind all flags of cacheMigrateCmd to Viper
	cacheMigrateCmd.Flags().Int("target-version", -1, "Target migration version (-1 means latest, 0 means rollback to initial state)")
	if err := viper.BindPFlags(cacheMigrateCmd.Flags()); err != nil {
		contract.LogFatal("Error binding cache migrate flags", err)
	}
}

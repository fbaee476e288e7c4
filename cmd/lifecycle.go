package cmd

import (
	"github.com/nutrifyke/offlinecache/core"
	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/spf13/cobra"
)

// installCmd precaches the manifest once.
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Precache the asset manifest into the current cache",
	Long: `Fetch every asset in the manifest and store the responses in the current cache.

Install is all or nothing: if any asset fails to download or answers with a
non-2xx status, nothing is written. Running it again with an unchanged manifest
refreshes the stored copies.

Examples:
  offlinecache install --origin https://app.example.com
  offlinecache install --manifest /,/static/app.js,/static/app.css`,
	PreRunE: sharedSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		if err := core.ExecuteInstall(rootCtx, cfg, cacheManager); err != nil {
			contract.LogFatal("Install failed", err)
		}
	},
}

// activateCmd removes stale cache generations.
var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Delete cache generations other than the current one",
	Long: `Remove every stored cache whose name differs from --cache-name.

The current cache must have been installed first.

Examples:
  offlinecache activate --cache-name nutrifyke-v2`,
	PreRunE: sharedSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		if err := core.ExecuteActivate(rootCtx, cfg, cacheManager); err != nil {
			contract.LogFatal("Activate failed", err)
		}
	},
}

// fetchCmd runs a single fetch event.
var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch one URL network first, falling back to the cache",
	Long: `Dispatch a single fetch event and report whether the network or the cache answered.

The URL may be absolute or a path relative to --origin. When the network fails
and the cache has no match, the command exits with an error.

Examples:
  offlinecache fetch /
  offlinecache fetch /static/manifest.json --origin http://localhost:8000`,
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetupWrapper,
	Run: func(_ *cobra.Command, args []string) {
		if err := core.ExecuteFetch(rootCtx, cfg, cacheManager, args[0]); err != nil {
			contract.LogFatal("Fetch failed", err)
		}
	},
}

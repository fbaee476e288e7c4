package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nutrifyke/offlinecache/core"
	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/spf13/cobra"
)

// serveCmd runs the worker behind the proxy.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Install the cache and proxy requests to the origin",
	Long: `Run the full worker lifecycle and serve requests until interrupted.

Steps:
1. Install - precache every manifest asset into the current cache (all or nothing)
2. Activate - delete cache generations other than the current one
3. Serve - forward each request to the origin and fall back to the cache when it is unreachable

If install keeps failing but an earlier run already installed the current cache,
the proxy starts anyway and serves from it.

Reserved paths:
  /-/healthz - worker state as JSON (503 until installed)
  /-/metrics - Prometheus metrics

Examples:
  # Proxy a local app on :8080
  offlinecache serve --origin http://localhost:8000

  # Retry install while the origin boots
  offlinecache serve --install-retries 10 --install-retry-delay 3s`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, _ []string) error {
		logger, err := contract.NewLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := core.ExecuteServe(ctx, cfg, cacheManager, logger); err != nil {
			return fmt.Errorf("serve failed: %w", err)
		}
		return nil
	},
}

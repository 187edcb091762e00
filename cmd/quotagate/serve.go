package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shrinkix/quotagate/bootstrap"
	"github.com/shrinkix/quotagate/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the quotagate API server.

The server will:
  - Load configuration from quotagate.yaml (or --config)
  - Or load configuration from QUOTAGATE_* environment variables
  - Open and migrate the account store
  - Serve /api/compress and the /v1 API with quota enforcement

Environment variables (for container deployments):
  QUOTAGATE_STORAGE_DRIVER   - sqlite, postgres or memory (default: sqlite)
  QUOTAGATE_STORAGE_DSN      - Database path or URL (default: quotagate.db)
  QUOTAGATE_SERVER_PORT      - Server port (default: 8080)
  QUOTAGATE_QUOTA_API_MODE   - soft or hard enforcement for /v1 (default: soft)
  QUOTAGATE_REDIS_ADDR       - Redis for shared guest and rate-limit state
  QUOTAGATE_ENGINE_URL       - Remote image engine (default: built-in)
  QUOTAGATE_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  quotagate serve
  quotagate serve --config /etc/quotagate/config.yaml
  quotagate serve --hot-reload=false

  # Container (env vars only):
  QUOTAGATE_STORAGE_DRIVER=postgres QUOTAGATE_STORAGE_DSN=postgres://... quotagate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of plans, add-ons and log level")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	// Load config (file with env overrides, or env-only)
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if !hasConfigFile {
		fmt.Fprintln(cmd.OutOrStdout(), "Running with environment variables (no config file)")
	}

	opts := bootstrap.Options{Version: version}

	// Hot reload only works with config file
	if hasConfigFile && hotReload {
		logger := bootstrap.SetupLogger(cfg.Logging)
		holder, err := config.NewHolder(cfgFile, logger)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		cfg = holder.Get()
		opts.Holder = holder
	}

	app, err := bootstrap.New(cfg, opts)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}

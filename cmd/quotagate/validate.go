package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shrinkix/quotagate/adapters/engine"
	"github.com/shrinkix/quotagate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the quotagate configuration file.

Checks:
  - YAML syntax is valid
  - Plans and add-on bundles are consistent
  - Remote engine is reachable (optional)
  - Account store opens and migrates (optional)

Examples:
  quotagate validate
  quotagate validate --config /etc/quotagate/config.yaml --check-storage`,
	RunE: runValidate,
}

var (
	validateCheckEngine  bool
	validateCheckStorage bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckEngine, "check-engine", false, "check if the remote engine is reachable")
	validateCmd.Flags().BoolVar(&validateCheckStorage, "check-storage", false, "check if the account store opens")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config syntax valid\n", checkMark)

	// Show config summary
	fmt.Fprintf(out, "  %s Storage: %s\n", checkMark, cfg.Storage.Driver)
	fmt.Fprintf(out, "  %s Engine: %s\n", checkMark, cfg.Engine.Mode)
	fmt.Fprintf(out, "  %s API enforcement: %s\n", checkMark, cfg.Quota.APIMode)
	fmt.Fprintf(out, "  %s Guest allowance: %d/day (%s)\n", checkMark, cfg.Guest.DailyLimit, cfg.Guest.Store)
	fmt.Fprintf(out, "  %s Plans configured: %d (default %s)\n", checkMark, len(cfg.Plans), cfg.PlanCatalog().Default().ID)
	fmt.Fprintf(out, "  %s Add-on bundles: %d (cap %d)\n", checkMark, len(cfg.Addons.Bundles), cfg.Addons.Cap)

	// Optional: check engine
	if validateCheckEngine && cfg.Engine.Mode == "remote" {
		if err := checkEngineReachable(cfg.Engine); err != nil {
			fmt.Fprintf(out, "  %s Engine reachable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Engine reachable\n", checkMark)
		}
	}

	// Optional: check storage
	if validateCheckStorage {
		if a, err := openApp(); err != nil {
			fmt.Fprintf(out, "  %s Storage opens\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			a.Shutdown()
			fmt.Fprintf(out, "  %s Storage opens\n", checkMark)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkEngineReachable(cfg config.EngineConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	remote, err := engine.NewRemote(engine.RemoteConfig{BaseURL: cfg.URL, Timeout: 5 * time.Second}, nil)
	if err != nil {
		return err
	}
	defer remote.Close()
	return remote.HealthCheck(ctx)
}

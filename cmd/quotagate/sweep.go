package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reset accounts whose cycle has ended",
	Long: `Run one pass of the cycle sweeper.

Cycles also reset lazily on the next request, so a sweep is only needed
to keep stored counters current for idle accounts. Schedule it from cron
or set quota.sweep_interval to run it inside the server.

Examples:
  quotagate sweep`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	n, err := a.Sweeper.Sweep(context.Background())
	if err != nil {
		return fmt.Errorf("sweep failed after %d resets: %w", n, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Reset %d accounts\n", checkMark, n)
	return nil
}

package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shrinkix/quotagate/config"
	"github.com/shrinkix/quotagate/domain/plan"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List configured plans",
	Long: `List the plan catalog from configuration.

Plans are defined in the plans section of quotagate.yaml. When none are
configured the published Shrinkix lineup is used.

Examples:
  quotagate plans`,
	RunE: runPlans,
}

func init() {
	rootCmd.AddCommand(plansCmd)
}

func runPlans(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	catalog := cfg.PlanCatalog()
	defaultID := catalog.Default().ID

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTIER\tCADENCE\tQUOTA\tMAX OPS\tADDONS\tFEATURES")
	fmt.Fprintln(w, "--\t----\t----\t-------\t-----\t-------\t------\t--------")

	for _, p := range catalog.List() {
		id := p.ID
		if id == defaultID {
			id += " *"
		}
		addons := "no"
		if p.AddonsEnabled {
			addons = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			id, p.Name, p.Tier, p.Cadence, formatLimit(p.Allotment()),
			p.MaxOperations, addons, strings.Join(p.Features, ","))
	}

	w.Flush()
	fmt.Fprintln(cmd.OutOrStdout(), "\n* default plan for guests and unknown plan ids")
	return nil
}

func formatLimit(n int64) string {
	if n == plan.Unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(n, 10)
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage accounts",
	Long: `Manage quotagate accounts.

Each account holds one plan, its cycle counters and its add-on balance.

Examples:
  quotagate accounts create --email=dev@example.com --plan=starter
  quotagate accounts show dev@example.com
  quotagate accounts set-plan acct_123 pro`,
}

var accountsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new account",
	RunE:  runAccountsCreate,
}

var accountsShowCmd = &cobra.Command{
	Use:   "show <account-id|email>",
	Short: "Show account usage and balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsShow,
}

var accountsSetPlanCmd = &cobra.Command{
	Use:   "set-plan <account-id|email> <plan-id>",
	Short: "Change an account's plan",
	Long: `Change an account's plan.

Limits are re-derived from the new plan on the next request. When the
cadence changes the cycle is re-anchored at the next evaluation.`,
	Args: cobra.ExactArgs(2),
	RunE: runAccountsSetPlan,
}

var (
	accountEmail string
	accountPlan  string
)

func init() {
	rootCmd.AddCommand(accountsCmd)

	accountsCmd.AddCommand(accountsCreateCmd)
	accountsCmd.AddCommand(accountsShowCmd)
	accountsCmd.AddCommand(accountsSetPlanCmd)

	accountsCreateCmd.Flags().StringVar(&accountEmail, "email", "", "account email (required)")
	accountsCreateCmd.Flags().StringVar(&accountPlan, "plan", "", "plan ID (default: catalog default)")
	accountsCreateCmd.MarkFlagRequired("email")
}

func runAccountsCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	planID := accountPlan
	if planID == "" {
		planID = a.Catalogs.Plans().Default().ID
	}

	acct, err := a.Accounts.Create(context.Background(), accountEmail, planID)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Created account %s\n", checkMark, acct.ID)
	fmt.Fprintf(out, "  Email: %s\n", acct.Email)
	fmt.Fprintf(out, "  Plan:  %s\n", acct.PlanID)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Issue a key with: quotagate keys create --account=%s\n", acct.ID)
	return nil
}

func runAccountsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	ctx := context.Background()
	acct, err := a.Accounts.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("account not found: %s", args[0])
	}

	s, err := a.Accounts.Summary(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("failed to load usage: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Account: %s\n", acct.ID)
	fmt.Fprintf(out, "  Email:     %s\n", acct.Email)
	fmt.Fprintf(out, "  Plan:      %s (%s, %s)\n", s.Plan.ID, s.Plan.Tier, s.Cycle.Cadence)
	fmt.Fprintf(out, "  Created:   %s\n", acct.CreatedAt.Format(time.RFC3339))
	if acct.ExpiresAt != nil {
		fmt.Fprintf(out, "  Expires:   %s\n", acct.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintf(out, "  Used:      %d\n", s.Usage.Used)
	fmt.Fprintf(out, "  Limit:     %s\n", formatLimit(s.Usage.Total))
	fmt.Fprintf(out, "  Remaining: %s\n", formatLimit(s.Usage.Remaining))
	if s.Usage.Total > 0 {
		fmt.Fprintf(out, "  Percent:   %.1f%%\n", s.Usage.Percentage)
	}
	if !s.Cycle.ResetAt.IsZero() {
		fmt.Fprintf(out, "  Resets:    %s (%d days)\n", s.Cycle.ResetAt.Format(time.RFC3339), s.Cycle.DaysUntilReset)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Add-on credits: %d\n", s.Addon.CurrentCredits)
	return nil
}

func runAccountsSetPlan(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	ctx := context.Background()
	acct, err := a.Accounts.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("account not found: %s", args[0])
	}

	if acct.PlanID == args[1] {
		fmt.Fprintf(cmd.OutOrStdout(), "Account %s is already on plan %s.\n", acct.ID, args[1])
		return nil
	}

	if err := a.Accounts.SetPlan(ctx, acct.ID, args[1]); err != nil {
		return fmt.Errorf("failed to change plan: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Changed plan for %s: %s -> %s\n", checkMark, acct.ID, acct.PlanID, args[1])
	return nil
}

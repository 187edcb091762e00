package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage add-on credits",
	Long: `Grant add-on credit bundles and inspect purchase history.

Purchases are normally recorded by the billing integration through
POST /v1/credits/purchase. These commands cover manual grants and
support lookups.

Examples:
  quotagate credits purchase --account=acct_123 --addon=small-boost --ref=pi_abc
  quotagate credits history --account=acct_123`,
}

var creditsPurchaseCmd = &cobra.Command{
	Use:   "purchase",
	Short: "Grant an add-on bundle",
	RunE:  runCreditsPurchase,
}

var creditsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show purchase history",
	RunE:  runCreditsHistory,
}

var (
	creditAccount string
	creditAddon   string
	creditRef     string
)

func init() {
	rootCmd.AddCommand(creditsCmd)

	creditsCmd.AddCommand(creditsPurchaseCmd)
	creditsCmd.AddCommand(creditsHistoryCmd)

	creditsPurchaseCmd.Flags().StringVar(&creditAccount, "account", "", "account ID or email (required)")
	creditsPurchaseCmd.Flags().StringVar(&creditAddon, "addon", "", "add-on bundle ID (required)")
	creditsPurchaseCmd.Flags().StringVar(&creditRef, "ref", "", "payment reference (required)")
	creditsPurchaseCmd.MarkFlagRequired("account")
	creditsPurchaseCmd.MarkFlagRequired("addon")
	creditsPurchaseCmd.MarkFlagRequired("ref")

	creditsHistoryCmd.Flags().StringVar(&creditAccount, "account", "", "account ID or email (required)")
	creditsHistoryCmd.MarkFlagRequired("account")
}

func runCreditsPurchase(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	ctx := context.Background()
	acct, err := a.Accounts.Get(ctx, creditAccount)
	if err != nil {
		return fmt.Errorf("account not found: %s", creditAccount)
	}

	balance, err := a.Ledger.Purchase(ctx, acct.ID, creditAddon, creditRef)
	if err != nil {
		return fmt.Errorf("purchase rejected: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Granted %s to %s\n", checkMark, creditAddon, acct.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "  Current credits: %d\n", balance)
	return nil
}

func runCreditsHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	ctx := context.Background()
	acct, err := a.Accounts.Get(ctx, creditAccount)
	if err != nil {
		return fmt.Errorf("account not found: %s", creditAccount)
	}

	history, err := a.Ledger.History(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(history) == 0 {
		fmt.Fprintf(out, "No purchases for account %s.\n", acct.ID)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDON\tCREDITS\tPRICE\tREFERENCE\tPURCHASED")
	fmt.Fprintln(w, "--\t-----\t-------\t-----\t---------\t---------")

	for _, p := range history {
		fmt.Fprintf(w, "%s\t%s\t%d\t$%d.%02d\t%s\t%s\n",
			p.ID, p.Addon, p.Credits, p.PriceCents/100, p.PriceCents%100,
			p.PaymentRef, p.PurchasedAt.Format("2006-01-02 15:04"))
	}

	w.Flush()
	return nil
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage quotagate API keys.

Each account can have multiple API keys. Keys are shown once at creation
and stored only as a bcrypt hash.

Examples:
  quotagate keys list --account=acct_123
  quotagate keys create --account=acct_123 --name=ci
  quotagate keys revoke cred_abc123`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys for an account",
	RunE:  runKeysList,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var (
	keyAccount string
	keyName    string
	keyYes     bool
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRevokeCmd)

	keysListCmd.Flags().StringVar(&keyAccount, "account", "", "account ID or email (required)")
	keysListCmd.MarkFlagRequired("account")
	keysCreateCmd.Flags().StringVar(&keyAccount, "account", "", "account ID or email (required)")
	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "key name (optional)")
	keysCreateCmd.MarkFlagRequired("account")
	keysRevokeCmd.Flags().BoolVarP(&keyYes, "yes", "y", false, "skip confirmation")
}

func runKeysList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	ctx := context.Background()
	acct, err := a.Accounts.Get(ctx, keyAccount)
	if err != nil {
		return fmt.Errorf("account not found: %s", keyAccount)
	}

	keys, err := a.Accounts.ListKeys(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		fmt.Fprintf(out, "No keys found for account %s.\n", acct.ID)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Create a key with: quotagate keys create --account=%s\n", acct.ID)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPREFIX\tNAME\tSTATUS\tCREATED")
	fmt.Fprintln(w, "--\t------\t----\t------\t-------")

	for _, k := range keys {
		status := "active"
		if k.RevokedAt != nil {
			status = "revoked"
		}
		created := k.CreatedAt.Format("2006-01-02")
		fmt.Fprintf(w, "%s\t%s...\t%s\t%s\t%s\n", k.ID, k.Fingerprint, k.Name, status, created)
	}

	w.Flush()
	return nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	ctx := context.Background()
	acct, err := a.Accounts.Get(ctx, keyAccount)
	if err != nil {
		return fmt.Errorf("account not found: %s", keyAccount)
	}

	issued, err := a.Accounts.IssueKey(ctx, acct.ID, keyName)
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Created API key for account %s\n", checkMark, acct.ID)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "API Key (save this, shown once):")
	fmt.Fprintf(out, "  %s\n", issued.RawKey)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Key ID: %s\n", issued.Credential.ID)
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	keyID := args[0]

	if !keyYes && !confirm(cmd, fmt.Sprintf("Revoke key %s?", keyID)) {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return nil
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	if err := a.Accounts.RevokeKey(context.Background(), keyID); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Revoked key: %s\n", checkMark, keyID)
	return nil
}

func confirm(cmd *cobra.Command, message string) bool {
	reader := bufio.NewReader(cmd.InOrStdin())
	fmt.Fprintf(cmd.OutOrStdout(), "? %s [y/N]: ", message)
	input, _ := reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

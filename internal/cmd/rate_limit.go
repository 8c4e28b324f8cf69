package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vibecoder/aigateway/internal/core/store"
	"github.com/vibecoder/aigateway/internal/output"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect or reset the provider usage ledger",
	Long: `The usage ledger records, per provider, how many requests the gateway
dispatched in the current window and when the provider last answered 429.
It is informational; the gateway paces and retries on its own.`,
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}

// addLedgerQueryFlags registers the selector flags shared by list and reset.
func addLedgerQueryFlags(cmd *cobra.Command, verb string) {
	addOutputFlags(cmd, output.FormatTable, "table, json")
	cmd.Flags().Bool("all", false, verb+" all providers")
	cmd.Flags().String("provider", "", verb+" a single provider (exact match)")
	cmd.Flags().String("prefix", "", verb+" providers with matching prefix")
}

func ledgerQueryFromFlags(cmd *cobra.Command) (store.RateLimitQuery, error) {
	var q store.RateLimitQuery
	var err error
	if q.All, err = cmd.Flags().GetBool("all"); err != nil {
		return q, err
	}
	if q.Provider, err = cmd.Flags().GetString("provider"); err != nil {
		return q, err
	}
	if q.Prefix, err = cmd.Flags().GetString("prefix"); err != nil {
		return q, err
	}
	q.Provider = strings.TrimSpace(q.Provider)
	q.Prefix = strings.TrimSpace(q.Prefix)
	return q, nil
}

// ledgerOutputFormat accepts table or json only.
func ledgerOutputFormat(cmd *cobra.Command) (output.Format, error) {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return "", err
	}
	if format != output.FormatJSON && format != output.FormatTable {
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
	return format, nil
}

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vibecoder/aigateway/internal/output"
)

var (
	rateLimitResetYes    bool
	rateLimitResetDryRun bool
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset recorded provider usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := ledgerOutputFormat(cmd)
		if err != nil {
			return err
		}
		query, err := ledgerQueryFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := query.Validate(); err != nil {
			return err
		}

		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		db, err := openStore(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openOutputSink(cmd, "rate-limit.reset", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if rateLimitResetDryRun {
			return writeRateLimitResetResult(format, sink.writer, matched, 0, true)
		}

		deleted, err := db.ResetRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		return writeRateLimitResetResult(format, sink.writer, matched, deleted, false)
	},
}

func writeRateLimitResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	result := struct {
		Matched int   `json:"matched"`
		Deleted int64 `json:"deleted"`
		DryRun  bool  `json:"dry_run"`
	}{matched, deleted, dryRun}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would reset usage for %d provider(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Reset usage for %d/%d provider(s)\n", deleted, matched)
	return err
}

func init() {
	addLedgerQueryFlags(rateLimitResetCmd, "Reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
}

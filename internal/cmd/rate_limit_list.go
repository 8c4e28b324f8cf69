package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/vibecoder/aigateway/internal/core/store"
	"github.com/vibecoder/aigateway/internal/output"
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded provider usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := ledgerOutputFormat(cmd)
		if err != nil {
			return err
		}
		query, err := ledgerQueryFromFlags(cmd)
		if err != nil {
			return err
		}
		if !query.All && query.Provider == "" && query.Prefix == "" {
			query.All = true
		}

		db, err := openStore(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		entries, err := db.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openOutputSink(cmd, "rate-limit.list", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if format == output.FormatJSON {
			if entries == nil {
				entries = []store.RateLimitEntry{}
			}
			payload, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(sink.writer, string(payload))
			return err
		}

		_, err = fmt.Fprint(sink.writer, ascii.DrawBox(renderRateLimitLines(entries, time.Now()), 0))
		return err
	},
}

func renderRateLimitLines(entries []store.RateLimitEntry, now time.Time) string {
	lines := []string{"Provider Usage", ""}
	if len(entries) == 0 {
		return strings.Join(append(lines, "(no recorded provider usage)"), "\n")
	}

	for _, entry := range entries {
		backoff := "-"
		if entry.State.BackoffUntil != nil {
			backoff = entry.State.BackoffUntil.UTC().Format(time.RFC3339)
			if entry.State.InBackoff(now) {
				backoff += " (active)"
			}
		}
		lines = append(lines, fmt.Sprintf("%s: requests=%d rate_limited=%d window_start=%s backoff_until=%s",
			entry.Provider,
			entry.State.RequestCount,
			entry.State.RateLimitCount,
			entry.State.WindowStart.UTC().Format(time.RFC3339),
			backoff))
	}
	return strings.Join(lines, "\n")
}

func init() {
	addLedgerQueryFlags(rateLimitListCmd, "List")
}

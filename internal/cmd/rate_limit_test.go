package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/vibecoder/aigateway/internal/core"
	"github.com/vibecoder/aigateway/internal/core/store"
	"github.com/vibecoder/aigateway/internal/output"
)

func newLedgerCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "list"}
	addLedgerQueryFlags(cmd, "List")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLedgerQueryFromFlags(t *testing.T) {
	q, err := ledgerQueryFromFlags(newLedgerCmd(t, "--provider", " openrouter ", "--prefix", "open"))
	require.NoError(t, err)
	require.Equal(t, store.RateLimitQuery{Provider: "openrouter", Prefix: "open"}, q)

	q, err = ledgerQueryFromFlags(newLedgerCmd(t, "--all"))
	require.NoError(t, err)
	require.True(t, q.All)
}

func TestLedgerOutputFormat(t *testing.T) {
	format, err := ledgerOutputFormat(newLedgerCmd(t, "--output-format", "json"))
	require.NoError(t, err)
	require.Equal(t, output.FormatJSON, format)

	_, err = ledgerOutputFormat(newLedgerCmd(t, "--output-format", "markdown"))
	require.ErrorContains(t, err, "unsupported output format")
}

func TestRenderRateLimitLines(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)

	require.Contains(t, renderRateLimitLines(nil, now), "(no recorded provider usage)")

	rendered := renderRateLimitLines([]store.RateLimitEntry{
		{Provider: "perplexity", State: core.RateLimitState{RequestCount: 7, RateLimitCount: 2, WindowStart: now, BackoffUntil: &until}},
		{Provider: "openai", State: core.RateLimitState{RequestCount: 1, WindowStart: now}},
	}, now)
	require.Contains(t, rendered, "perplexity: requests=7 rate_limited=2 window_start=2025-03-01T10:00:00Z backoff_until=2025-03-01T10:01:00Z (active)")
	require.Contains(t, rendered, "openai: requests=1 rate_limited=0 window_start=2025-03-01T10:00:00Z backoff_until=-")
}

func TestWriteRateLimitResetResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRateLimitResetResult(output.FormatTable, &buf, 3, 0, true))
	require.Equal(t, "Would reset usage for 3 provider(s)\n", buf.String())

	buf.Reset()
	require.NoError(t, writeRateLimitResetResult(output.FormatTable, &buf, 3, 2, false))
	require.Equal(t, "Reset usage for 2/3 provider(s)\n", buf.String())

	buf.Reset()
	require.NoError(t, writeRateLimitResetResult(output.FormatJSON, &buf, 1, 1, false))
	require.JSONEq(t, `{"matched":1,"deleted":1,"dry_run":false}`, buf.String())
}

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vibecoder/aigateway/internal/ailink"
	"github.com/vibecoder/aigateway/internal/ailink/driver"
	"github.com/vibecoder/aigateway/internal/observability"
	"github.com/vibecoder/aigateway/internal/output"
)

var completeCmd = &cobra.Command{
	Use:   "complete [prompt...]",
	Short: "Run one completion through the gateway",
	Long: `Send a single prompt through the gateway and print the reply.

The prompt is taken from the arguments, or from stdin when no arguments are
given (or the only argument is "-").`,
	RunE: runComplete,
}

func init() {
	rootCmd.AddCommand(completeCmd)
	addCompletionFlags(completeCmd)
}

func addCompletionFlags(cmd *cobra.Command) {
	cmd.Flags().String("system", "", "System prompt")
	cmd.Flags().String("model", "", "Model override")
	cmd.Flags().Float64("temperature", -1, "Sampling temperature (provider default when unset)")
	cmd.Flags().Int("max-tokens", 0, "Maximum completion tokens (provider default when 0)")
	cmd.Flags().Bool("json", false, "Ask the provider for a JSON object response")
	cmd.Flags().String("output-format", "text", "Output format: text, json")
	cmd.Flags().Duration("timeout", 0, "Give up waiting after this long (0 waits for the gateway)")
}

func runComplete(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	req, err := completionRequestFromFlags(cmd, prompt)
	if err != nil {
		return err
	}

	formatValue, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return err
	}
	formatValue = strings.ToLower(strings.TrimSpace(formatValue))
	if formatValue != "text" && formatValue != string(output.FormatJSON) {
		return fmt.Errorf("unsupported output format: %s", formatValue)
	}

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rt, err := buildGatewayRuntime(ctx, appConfig, observability.CLILogger, req.Model)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.shutdown(shutdownCtx)
	}()

	started := time.Now()
	completion, err := rt.client.Complete(ctx, req)
	if err != nil {
		return err
	}

	stats := rt.client.Gateway().Stats()
	observability.CLILogger.Debug("Completion finished",
		zap.String("provider", completion.Provider),
		zap.String("model", completion.Model),
		zap.Uint64("invocations", stats.Invocations),
		zap.Uint64("retries", stats.Retries),
		zap.Duration("elapsed", time.Since(started)))

	out := cmd.OutOrStdout()
	if formatValue == string(output.FormatJSON) {
		data, err := json.MarshalIndent(completion, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	_, err = fmt.Fprintln(out, strings.TrimRight(completion.Content, "\n"))
	return err
}

// readPrompt joins args, or reads stdin when args are empty or "-".
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		prompt := strings.TrimSpace(strings.Join(args, " "))
		if prompt == "" {
			return "", errors.New("prompt is empty")
		}
		return prompt, nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("prompt is empty")
	}
	return prompt, nil
}

func completionRequestFromFlags(cmd *cobra.Command, prompt string) (ailink.CompletionRequest, error) {
	var req ailink.CompletionRequest

	system, err := cmd.Flags().GetString("system")
	if err != nil {
		return req, err
	}
	if req.Model, err = cmd.Flags().GetString("model"); err != nil {
		return req, err
	}
	req.Model = strings.TrimSpace(req.Model)

	if strings.TrimSpace(system) != "" {
		req.Messages = append(req.Messages, ailink.Message{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, ailink.Message{Role: "user", Content: prompt})

	if cmd.Flags().Changed("temperature") {
		temperature, err := cmd.Flags().GetFloat64("temperature")
		if err != nil {
			return req, err
		}
		req.Temperature = &temperature
	}

	maxTokens, err := cmd.Flags().GetInt("max-tokens")
	if err != nil {
		return req, err
	}
	if maxTokens < 0 {
		return req, errors.New("max-tokens must be non-negative")
	}
	if maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return req, err
	}
	if asJSON {
		req.ResponseFormat = &driver.ResponseFormat{Type: "json_object"}
	}

	return req, req.Validate()
}

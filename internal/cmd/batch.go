package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vibecoder/aigateway/internal/ailink"
	"github.com/vibecoder/aigateway/internal/ailink/driver"
	apperrors "github.com/vibecoder/aigateway/internal/errors"
	"github.com/vibecoder/aigateway/internal/gateway"
	"github.com/vibecoder/aigateway/internal/observability"
	"github.com/vibecoder/aigateway/internal/output"
)

// batchFile is the job file format. JSON files parse as YAML.
type batchFile struct {
	Defaults batchJob   `yaml:"defaults"`
	Jobs     []batchJob `yaml:"jobs"`
}

type batchJob struct {
	ID          string           `yaml:"id"`
	Prompt      string           `yaml:"prompt"`
	System      string           `yaml:"system"`
	Model       string           `yaml:"model"`
	Temperature *float64         `yaml:"temperature"`
	MaxTokens   *int             `yaml:"max_tokens"`
	JSON        bool             `yaml:"json"`
	Messages    []ailink.Message `yaml:"messages"`
}

var errBatchFailures = errors.New("batch jobs failed")

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Run completions from a YAML or JSON job file",
	Long: `Read a job file and queue every job on the gateway at once. Jobs are
dispatched one at a time in file order; results are printed when all finish.

Job file:

  defaults:
    model: sonar-pro
    system: Answer in one sentence.
  jobs:
    - id: greet
      prompt: Say hello
    - id: chat
      messages:
        - {role: user, content: Hi}`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	addOutputFlags(batchCmd, output.FormatTable, "table, json, markdown")
	batchCmd.Flags().String("model", "", "Model override for jobs that do not name one")
	batchCmd.Flags().Duration("timeout", 0, "Give up waiting after this long (0 waits for every job)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	model, err := cmd.Flags().GetString("model")
	if err != nil {
		return err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}
	jobs, err := parseBatchFile(data)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rt, err := buildGatewayRuntime(ctx, appConfig, observability.CLILogger, model)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.shutdown(shutdownCtx); err != nil {
			observability.CLILogger.Debug("Gateway shutdown", zap.Error(err))
		}
	}()

	results := runBatchJobs(ctx, rt.client, jobs)

	stem := "batch." + strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	sink, err := openOutputSink(cmd, stem, format)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	rendered, err := output.FormatResults(format, results)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(sink.writer, rendered); err != nil {
		return err
	}

	summary := output.Summarize(results)
	observability.CLILogger.Debug("Batch complete",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	if summary.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", errBatchFailures, summary.Failed, summary.Total)
	}
	return nil
}

// parseBatchFile applies defaults to each job and assigns ids to unnamed jobs.
func parseBatchFile(data []byte) ([]batchJob, error) {
	var file batchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	if len(file.Jobs) == 0 {
		return nil, errors.New("no jobs found in batch file")
	}

	seen := make(map[string]bool, len(file.Jobs))
	jobs := make([]batchJob, 0, len(file.Jobs))
	for i, job := range file.Jobs {
		job = job.withDefaults(file.Defaults)
		if strings.TrimSpace(job.ID) == "" {
			job.ID = fmt.Sprintf("job-%d", i+1)
		}
		if seen[job.ID] {
			return nil, fmt.Errorf("duplicate job id %q", job.ID)
		}
		seen[job.ID] = true

		if strings.TrimSpace(job.Prompt) == "" && len(job.Messages) == 0 {
			return nil, fmt.Errorf("job %q: prompt or messages required", job.ID)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (j batchJob) withDefaults(d batchJob) batchJob {
	if j.System == "" {
		j.System = d.System
	}
	if j.Model == "" {
		j.Model = d.Model
	}
	if j.Temperature == nil {
		j.Temperature = d.Temperature
	}
	if j.MaxTokens == nil {
		j.MaxTokens = d.MaxTokens
	}
	if !j.JSON {
		j.JSON = d.JSON
	}
	return j
}

func (j batchJob) request() ailink.CompletionRequest {
	var messages []ailink.Message
	if strings.TrimSpace(j.System) != "" {
		messages = append(messages, ailink.Message{Role: "system", Content: j.System})
	}
	messages = append(messages, j.Messages...)
	if strings.TrimSpace(j.Prompt) != "" {
		messages = append(messages, ailink.Message{Role: "user", Content: j.Prompt})
	}

	req := ailink.CompletionRequest{
		Model:       j.Model,
		Messages:    messages,
		Temperature: j.Temperature,
		MaxTokens:   j.MaxTokens,
	}
	if j.JSON {
		req.ResponseFormat = &driver.ResponseFormat{Type: "json_object"}
	}
	return req
}

func (j batchJob) promptText() string {
	if strings.TrimSpace(j.Prompt) != "" {
		return j.Prompt
	}
	for i := len(j.Messages) - 1; i >= 0; i-- {
		if j.Messages[i].Role == "user" {
			return j.Messages[i].Content
		}
	}
	return ""
}

// runBatchJobs submits every job before waiting on any, so the gateway queue
// holds the whole batch in file order.
func runBatchJobs(ctx context.Context, client *ailink.Client, jobs []batchJob) []*output.Result {
	started := time.Now()
	results := make([]*output.Result, len(jobs))
	handles := make([]*gateway.Handle[*driver.Response], len(jobs))

	for i, job := range jobs {
		h, err := client.Submit(job.request())
		if err != nil {
			results[i] = failedResult(ctx, job, err, 0)
			continue
		}
		handles[i] = h
	}

	var wg sync.WaitGroup
	for i, h := range handles {
		if h == nil {
			continue
		}
		wg.Add(1)
		go func(i int, h *gateway.Handle[*driver.Response]) {
			defer wg.Done()
			job := jobs[i]
			resp, err := h.Wait(ctx)
			elapsed := time.Since(started)
			if err != nil {
				results[i] = failedResult(ctx, job, err, elapsed)
				return
			}
			completion := client.ToCompletion(resp)
			r := output.Result{
				ID:           job.ID,
				Prompt:       job.promptText(),
				Model:        completion.Model,
				Provider:     completion.Provider,
				Content:      completion.Content,
				FinishReason: completion.FinishReason,
			}
			if completion.Usage != nil {
				r.TotalTokens = completion.Usage.TotalTokens
			}
			results[i] = output.NewResult(r, elapsed)
		}(i, h)
	}
	wg.Wait()

	return results
}

func failedResult(ctx context.Context, job batchJob, err error, elapsed time.Duration) *output.Result {
	envelope := apperrors.FromGatewayError(ctx, err)
	return output.NewResult(output.Result{
		ID:        job.ID,
		Prompt:    job.promptText(),
		Model:     job.Model,
		Error:     envelope.Message,
		ErrorCode: envelope.Code,
	}, elapsed)
}

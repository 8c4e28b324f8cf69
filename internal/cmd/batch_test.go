package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vibecoder/aigateway/internal/ailink"
	apperrors "github.com/vibecoder/aigateway/internal/errors"
	"github.com/vibecoder/aigateway/internal/gateway"
	"github.com/vibecoder/aigateway/internal/output"
)

func TestParseBatchFileAppliesDefaults(t *testing.T) {
	jobs, err := parseBatchFile([]byte(`
defaults:
  model: sonar-pro
  system: Be brief.
  temperature: 0.2
jobs:
  - id: greet
    prompt: Say hello
  - prompt: Say bye
    model: sonar
  - messages:
      - {role: user, content: Hi}
      - {role: assistant, content: Hello}
      - {role: user, content: "How are you?"}
`))
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	require.Equal(t, "greet", jobs[0].ID)
	require.Equal(t, "sonar-pro", jobs[0].Model)
	require.Equal(t, "Be brief.", jobs[0].System)
	require.NotNil(t, jobs[0].Temperature)
	require.InDelta(t, 0.2, *jobs[0].Temperature, 1e-9)

	require.Equal(t, "job-2", jobs[1].ID)
	require.Equal(t, "sonar", jobs[1].Model)

	require.Equal(t, "job-3", jobs[2].ID)
	require.Equal(t, "How are you?", jobs[2].promptText())

	req := jobs[2].request()
	require.Len(t, req.Messages, 4)
	require.Equal(t, "system", req.Messages[0].Role)
	require.NoError(t, req.Validate())
}

func TestParseBatchFileAcceptsJSON(t *testing.T) {
	jobs, err := parseBatchFile([]byte(`{"jobs": [{"id": "a", "prompt": "one", "json": true, "max_tokens": 10}]}`))
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	req := jobs[0].request()
	require.NotNil(t, req.ResponseFormat)
	require.Equal(t, "json_object", req.ResponseFormat.Type)
	require.Equal(t, 10, *req.MaxTokens)
}

func TestParseBatchFileErrors(t *testing.T) {
	cases := map[string]string{
		"empty":        `jobs: []`,
		"duplicate id": "jobs:\n  - {id: a, prompt: x}\n  - {id: a, prompt: y}\n",
		"no prompt":    "jobs:\n  - {id: a}\n",
		"bad yaml":     "jobs: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseBatchFile([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestRunBatchJobsKeepsFileOrder(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		var body struct {
			Messages []ailink.Message `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		last := body.Messages[len(body.Messages)-1].Content
		if strings.Contains(last, "fail") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad prompt"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "test-model",
			"choices": []any{map[string]any{"message": map[string]any{"content": "reply " + last}, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": int(n) + 1},
		})
	}))
	defer upstream.Close()

	resolved, err := ailink.NewRegistry(ailink.Config{
		Provider: "openai",
		Providers: map[string]ailink.ProviderInstanceConfig{
			"openai": {Enabled: true, BaseURL: upstream.URL, Models: map[string]string{"default": "test-model"}},
		},
		APIKeys: map[string]string{"openai": "k"},
	}).Resolve("")
	require.NoError(t, err)

	gw, err := ailink.NewGateway(resolved, gateway.Config{BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxAttempts: 1})
	require.NoError(t, err)
	defer func() { _ = gw.Shutdown(context.Background()) }()
	client := ailink.NewClient(gw, resolved)

	jobs, err := parseBatchFile([]byte("jobs:\n  - prompt: first\n  - prompt: please fail\n  - prompt: third\n"))
	require.NoError(t, err)

	results := runBatchJobs(context.Background(), client, jobs)
	require.Len(t, results, 3)

	require.True(t, results[0].OK())
	require.Equal(t, "reply first", results[0].Content)
	require.Equal(t, 2, results[0].TotalTokens)

	require.False(t, results[1].OK())
	require.Equal(t, apperrors.CodeInvalidInput, results[1].ErrorCode)

	require.True(t, results[2].OK())
	require.Equal(t, "reply third", results[2].Content)
	require.Equal(t, 4, results[2].TotalTokens)

	require.Equal(t, output.Summary{Total: 3, Succeeded: 2, Failed: 1}, output.Summarize(results))
	require.Equal(t, int32(3), calls.Load())
}

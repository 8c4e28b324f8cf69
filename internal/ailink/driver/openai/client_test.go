package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vibecoder/aigateway/internal/ailink/content"
	"github.com/vibecoder/aigateway/internal/ailink/driver"
)

func userRequest(model string) *driver.Request {
	return &driver.Request{Model: model, Messages: []content.Message{content.Text("user", "hi")}}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient("perplexity", "", "")
	_, err := client.Complete(context.Background(), userRequest("sonar-pro"))
	require.ErrorIs(t, err, driver.ErrNotConfigured)
	require.Contains(t, err.Error(), "api key")
}

func TestClientRejectsInvalidRequests(t *testing.T) {
	client := NewClient("openai", "", "test-key")

	_, err := client.Complete(context.Background(), userRequest(""))
	require.ErrorIs(t, err, driver.ErrInvalidRequest)

	_, err = client.Complete(context.Background(), &driver.Request{Model: "m"})
	require.ErrorIs(t, err, driver.ErrInvalidRequest)

	_, err = client.Complete(context.Background(), &driver.Request{
		Model:    "m",
		Messages: []content.Message{content.Text("tool", "x")},
	})
	require.ErrorIs(t, err, driver.ErrInvalidRequest)
}

func TestClientSendsRequestAndParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "https://example.test", r.Header.Get("HTTP-Referer"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, "sonar-pro", payload["model"])
		format, ok := payload["response_format"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "json_object", format["type"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"sonar-pro-2025","choices":[{"message":{"content":"{\"summary\":\"ok\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer server.Close()

	client := NewClient("perplexity", server.URL, "test-key")
	client.HTTPClient = server.Client()
	client.Headers = map[string]string{"HTTP-Referer": "https://example.test", "X-Title": ""}

	resp, err := client.Complete(context.Background(), &driver.Request{
		Model: "sonar-pro",
		Messages: []content.Message{
			content.Text("system", "sys"),
			content.Text("user", "usr"),
		},
		ResponseFormat: &driver.ResponseFormat{Type: "json_object"},
	})
	require.NoError(t, err)
	require.Equal(t, "stop", resp.FinishReason)
	require.Equal(t, 3, resp.Usage.TotalTokens)
	require.Equal(t, "perplexity", resp.Provider)
	require.Equal(t, "sonar-pro-2025", resp.Model)
	require.Contains(t, resp.Text(), "summary")
}

func TestClientErrorsOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("nope"))
	}))
	defer server.Close()

	client := NewClient("openai", server.URL, "test-key")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), userRequest("m"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 401")
	require.Contains(t, err.Error(), "nope")
}

func TestClientParsesRateLimitResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"rate_limit"}}`))
	}))
	defer server.Close()

	client := NewClient("openrouter", server.URL, "test-key")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), userRequest("m"))
	var perr *driver.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	require.Equal(t, "Rate limit reached", perr.Message)
	require.Equal(t, 7*time.Second, perr.RetryAfter)
	require.Equal(t, "openrouter", perr.Provider)
}

func TestClientRejectsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := NewClient("openai", server.URL, "test-key")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), userRequest("m"))
	require.ErrorIs(t, err, ErrEmptyChoices)
}

func TestClientTracesExchanges(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	driver.SetTracer(driver.NewTracer(&buf))
	t.Cleanup(func() { driver.SetTracer(nil) })

	client := NewClient("openai", server.URL, "secret-key")
	client.HTTPClient = server.Client()
	_, err := client.Complete(context.Background(), userRequest("m"))
	require.NoError(t, err)

	var entry driver.TraceEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "openai", entry.Provider)
	require.Equal(t, "m", entry.Model)
	require.Equal(t, http.StatusOK, entry.StatusCode)
	require.NotContains(t, buf.String(), "secret-key")
}

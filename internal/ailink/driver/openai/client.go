package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vibecoder/aigateway/internal/ailink/driver"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client speaks the OpenAI chat completions API. Perplexity, OpenRouter and
// OpenAI all accept the same shape, so one client serves every preset.
type Client struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Headers    map[string]string
	HTTPClient *http.Client
	Timeout    time.Duration

	now func() time.Time
}

// NewClient returns a client with defaults applied.
func NewClient(provider, baseURL, apiKey string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		provider = "openai"
	}

	return &Client{
		Provider: provider,
		BaseURL:  url,
		APIKey:   strings.TrimSpace(apiKey),
		now:      time.Now,
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return c.Provider
}

// Complete sends a chat completion request.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: openai client is nil", driver.ErrNotConfigured)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("%w: api key is required", driver.ErrNotConfigured)
	}

	payload, err := buildChatRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", driver.ErrInvalidRequest, err)
	}

	ctx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", driver.ErrInvalidRequest, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.Headers {
		if strings.TrimSpace(v) != "" {
			httpReq.Header.Set(k, v)
		}
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	entry := driver.TraceEntry{
		Provider:    c.Provider,
		Endpoint:    url,
		Model:       payload.Model,
		RequestBody: body,
	}
	start := time.Now()
	defer func() {
		entry.DurationMs = time.Since(start).Milliseconds()
		driver.Trace(entry)
	}()

	resp, err := client.Do(httpReq)
	if err != nil {
		entry.Error = err.Error()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	entry.StatusCode = resp.StatusCode
	if err != nil {
		entry.Error = err.Error()
		return nil, fmt.Errorf("read response: %w", err)
	}
	if json.Valid(respBody) {
		entry.Response = respBody
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		perr := &driver.ProviderError{
			Provider:    c.Provider,
			StatusCode:  resp.StatusCode,
			Message:     errorMessage(respBody),
			RawResponse: respBody,
			RetryAfter:  driver.ParseRetryAfter(resp.Header.Get("Retry-After"), c.clock()),
		}
		entry.Error = perr.Error()
		entry.RetryAfterMs = perr.RetryAfter.Milliseconds()
		return nil, perr
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		entry.Error = err.Error()
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out, err := toDriverResponse(&parsed)
	if err != nil {
		entry.Error = err.Error()
		return nil, err
	}
	out.Provider = c.Provider
	if out.Model == "" {
		out.Model = payload.Model
	}
	return out, nil
}

func (c *Client) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

// errorMessage prefers the provider's structured error message over the raw body.
func errorMessage(body []byte) string {
	var parsed struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Error) > 0 {
		var detail struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(parsed.Error, &detail); err == nil && strings.TrimSpace(detail.Message) != "" {
			return strings.TrimSpace(detail.Message)
		}
		var text string
		if err := json.Unmarshal(parsed.Error, &text); err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	return strings.TrimSpace(string(body))
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vibecoder/aigateway/internal/ailink"
	"github.com/vibecoder/aigateway/internal/ailink/driver"
	"github.com/vibecoder/aigateway/internal/core/engine"
	apperrors "github.com/vibecoder/aigateway/internal/errors"
	"github.com/vibecoder/aigateway/internal/gateway"
)

type completerFunc func(ctx context.Context, req ailink.CompletionRequest) (*ailink.Completion, error)

func (f completerFunc) Complete(ctx context.Context, req ailink.CompletionRequest) (*ailink.Completion, error) {
	return f(ctx, req)
}

type usageFunc func(ctx context.Context, provider string) (engine.Usage, error)

func (f usageFunc) Usage(ctx context.Context, provider string) (engine.Usage, error) {
	return f(ctx, provider)
}

func postCompletion(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/completions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCompletionHandlerSuccess(t *testing.T) {
	var got ailink.CompletionRequest
	h := &CompletionHandler{Completer: completerFunc(func(ctx context.Context, req ailink.CompletionRequest) (*ailink.Completion, error) {
		got = req
		return &ailink.Completion{Content: "hello", FinishReason: "stop", Model: "sonar-pro", Provider: "perplexity"}, nil
	})}

	rec := postCompletion(t, h, `{"model":"sonar","messages":[{"role":"user","content":"hi"}],"temperature":0.3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out ailink.Completion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "hello", out.Content)
	require.Equal(t, "perplexity", out.Provider)

	require.Equal(t, "sonar", got.Model)
	require.Len(t, got.Messages, 1)
	require.NotNil(t, got.Temperature)
	require.InDelta(t, 0.3, *got.Temperature, 1e-9)
}

func TestCompletionHandlerRejectsMalformedBody(t *testing.T) {
	h := &CompletionHandler{Completer: completerFunc(func(ctx context.Context, req ailink.CompletionRequest) (*ailink.Completion, error) {
		t.Fatal("completer must not be called")
		return nil, nil
	})}

	rec := postCompletion(t, h, `{"messages":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompletionHandlerMapsGatewayErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"queue full", gateway.ErrQueueFull, http.StatusServiceUnavailable, apperrors.CodeServiceUnavailable},
		{"exhausted", &gateway.ExhaustedRetriesError{Attempts: 4, LastKind: gateway.KindRateLimited}, http.StatusTooManyRequests, apperrors.CodeRateLimited},
		{"invalid", driver.ErrInvalidRequest, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"provider down", &gateway.ProviderFailure{Kind: gateway.KindNonRetryable, Err: &driver.ProviderError{StatusCode: 401}}, http.StatusBadGateway, apperrors.CodeExternalService},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &CompletionHandler{Completer: completerFunc(func(ctx context.Context, req ailink.CompletionRequest) (*ailink.Completion, error) {
				return nil, tc.err
			})}

			rec := postCompletion(t, h, `{"messages":[{"role":"user","content":"hi"}]}`)
			require.Equal(t, tc.status, rec.Code)

			var body apperrors.HTTPErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.code, body.Error.Code)
		})
	}
}

func TestGatewayStatsHandler(t *testing.T) {
	backoff := time.Date(2025, 1, 1, 0, 0, 30, 0, time.UTC)
	h := &GatewayStatsHandler{
		Stats:    fixedStats{stats: gateway.Stats{Name: "perplexity", QueueDepth: 2, Submitted: 7, Retries: 1}},
		Provider: "perplexity",
		Usage: usageFunc(func(ctx context.Context, provider string) (engine.Usage, error) {
			return engine.Usage{Provider: provider, Requests: 5, BackoffUntil: &backoff}, nil
		}),
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/gateway/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp GatewayStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Gateway.QueueDepth)
	require.EqualValues(t, 7, resp.Gateway.Submitted)
	require.NotNil(t, resp.Usage)
	require.Equal(t, 5, resp.Usage.Requests)
	require.Equal(t, backoff, *resp.Usage.BackoffUntil)
}

func TestGatewayStatsHandlerWithoutLedger(t *testing.T) {
	h := &GatewayStatsHandler{Stats: fixedStats{stats: gateway.Stats{Name: "openai"}}}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/gateway/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), `"usage"`)
}

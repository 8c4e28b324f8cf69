package ailink

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vibecoder/aigateway/internal/ailink/driver"
	"github.com/vibecoder/aigateway/internal/gateway"
)

func TestMapErrorStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		wantCode   string
	}{
		{"auth", 401, CodeAuth},
		{"forbidden", 403, CodeAuth},
		{"rate", 429, CodeRateLimit},
		{"bad", 400, CodeBadRequest},
		{"unavail", 503, CodeUnavailable},
	}

	for _, tc := range cases {
		err := &driver.ProviderError{Provider: "perplexity", StatusCode: tc.statusCode, Message: "boom"}
		mapped := MapError(&gateway.ProviderFailure{Kind: gateway.KindNonRetryable, Err: err})
		require.NotNil(t, mapped, tc.name)
		require.Equal(t, tc.wantCode, mapped.Code, tc.name)
		require.Equal(t, "boom", mapped.Details, tc.name)
	}
}

func TestMapErrorGatewayFailures(t *testing.T) {
	require.Nil(t, MapError(nil))
	require.Equal(t, CodeQueueFull, MapError(gateway.ErrQueueFull).Code)
	require.Equal(t, CodeGatewayClosed, MapError(gateway.ErrGatewayClosed).Code)
	require.Equal(t, CodeInternal, MapError(fmt.Errorf("%w: boom", gateway.ErrProviderPanic)).Code)
	require.Equal(t, CodeInvalidRequest, MapError(fmt.Errorf("%w: model is required", driver.ErrInvalidRequest)).Code)
	require.Equal(t, CodeNotConfigured, MapError(ErrMissingAPIKey).Code)
	require.Equal(t, CodeTimeout, MapError(fmt.Errorf("request failed: %w", context.DeadlineExceeded)).Code)
	require.Equal(t, CodeProviderError, MapError(errors.New("odd")).Code)

	exhausted := &gateway.ExhaustedRetriesError{
		Attempts: 4,
		LastKind: gateway.KindRateLimited,
		LastErr:  &driver.ProviderError{Provider: "perplexity", StatusCode: 429, Message: "slow down"},
	}
	mapped := MapError(exhausted)
	require.Equal(t, CodeRetriesExhausted, mapped.Code)
	require.Contains(t, mapped.Details, "slow down")
}

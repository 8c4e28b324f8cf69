package ailink

import (
	"context"
	"errors"
	"strings"

	"github.com/vibecoder/aigateway/internal/ailink/driver"
	"github.com/vibecoder/aigateway/internal/gateway"
)

// Error codes reported for failed completions.
const (
	CodeQueueFull        = "AILINK_QUEUE_FULL"
	CodeGatewayClosed    = "AILINK_GATEWAY_CLOSED"
	CodeRetriesExhausted = "AILINK_RETRIES_EXHAUSTED"
	CodeInvalidRequest   = "AILINK_INVALID_REQUEST"
	CodeNotConfigured    = "AILINK_NOT_CONFIGURED"
	CodeTimeout          = "AILINK_PROVIDER_TIMEOUT"
	CodeAuth             = "AILINK_PROVIDER_AUTH"
	CodeRateLimit        = "AILINK_PROVIDER_RATE_LIMIT"
	CodeUnavailable      = "AILINK_PROVIDER_UNAVAILABLE"
	CodeBadRequest       = "AILINK_PROVIDER_BAD_REQUEST"
	CodeProviderError    = "AILINK_PROVIDER_ERROR"
	CodeInternal         = "AILINK_INTERNAL"
)

// Error is a completion failure reduced to a stable code for callers.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MapError reduces a gateway or driver error to an Error.
func MapError(err error) *Error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, gateway.ErrQueueFull):
		return &Error{Code: CodeQueueFull, Message: "completion queue is full"}
	case errors.Is(err, gateway.ErrGatewayClosed):
		return &Error{Code: CodeGatewayClosed, Message: "completion gateway is shutting down"}
	case errors.Is(err, gateway.ErrExhaustedRetries):
		return &Error{Code: CodeRetriesExhausted, Message: "provider still failing after retries", Details: lastErrorDetails(err)}
	case errors.Is(err, gateway.ErrProviderPanic), errors.Is(err, gateway.ErrDispatchFailed):
		return &Error{Code: CodeInternal, Message: "completion dispatch failed", Details: err.Error()}
	case errors.Is(err, driver.ErrInvalidRequest):
		return &Error{Code: CodeInvalidRequest, Message: "invalid completion request", Details: err.Error()}
	case errors.Is(err, driver.ErrNotConfigured), errors.Is(err, ErrMissingAPIKey):
		return &Error{Code: CodeNotConfigured, Message: "provider not configured", Details: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeTimeout, Message: "provider request timed out"}
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		status := perr.StatusCode
		details := strings.TrimSpace(perr.Message)
		switch {
		case status == 401 || status == 403:
			return &Error{Code: CodeAuth, Message: "provider authentication failed", Details: details}
		case status == 429:
			return &Error{Code: CodeRateLimit, Message: "provider rate limited", Details: details}
		case status >= 500 && status <= 599:
			return &Error{Code: CodeUnavailable, Message: "provider unavailable", Details: details}
		case status >= 400 && status <= 499:
			return &Error{Code: CodeBadRequest, Message: "provider rejected request", Details: details}
		default:
			return &Error{Code: CodeProviderError, Message: "provider request failed", Details: details}
		}
	}

	return &Error{Code: CodeProviderError, Message: "provider request failed", Details: err.Error()}
}

func lastErrorDetails(err error) string {
	var exhausted *gateway.ExhaustedRetriesError
	if errors.As(err, &exhausted) && exhausted.LastErr != nil {
		return exhausted.LastErr.Error()
	}
	return ""
}

package ailink

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/vibecoder/aigateway/internal/ailink/driver"
	"github.com/vibecoder/aigateway/internal/ailink/driver/openai"
	"github.com/vibecoder/aigateway/internal/gateway"
)

// Classify maps a driver error onto the gateway's retry classification.
// Errors it cannot place are treated as non-retryable.
func Classify(err error) gateway.Kind {
	if err == nil {
		return gateway.KindSuccess
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		return classifyStatus(perr.StatusCode)
	}

	switch {
	case errors.Is(err, driver.ErrInvalidRequest), errors.Is(err, driver.ErrNotConfigured):
		return gateway.KindNonRetryable
	case errors.Is(err, context.Canceled):
		return gateway.KindNonRetryable
	case errors.Is(err, context.DeadlineExceeded):
		return gateway.KindTransient
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return gateway.KindTransient
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return gateway.KindTransient
	case errors.Is(err, openai.ErrEmptyChoices):
		return gateway.KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return gateway.KindTransient
	}

	return gateway.KindNonRetryable
}

func classifyStatus(status int) gateway.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return gateway.KindRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusConflict, status == http.StatusTooEarly:
		return gateway.KindTransient
	case status >= 500 && status <= 599:
		return gateway.KindTransient
	default:
		return gateway.KindNonRetryable
	}
}

// RetryAfter extracts a provider Retry-After hint from err.
func RetryAfter(err error) time.Duration {
	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		return perr.RetryAfter
	}
	return 0
}

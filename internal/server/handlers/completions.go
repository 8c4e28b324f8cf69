package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/vibecoder/aigateway/internal/ailink"
	"github.com/vibecoder/aigateway/internal/core/engine"
	apperrors "github.com/vibecoder/aigateway/internal/errors"
	"github.com/vibecoder/aigateway/internal/gateway"
	"github.com/vibecoder/aigateway/internal/metrics"
)

const maxCompletionBody = 1 << 20

// Completer submits a completion through the gateway and waits for it.
type Completer interface {
	Complete(ctx context.Context, req ailink.CompletionRequest) (*ailink.Completion, error)
}

// StatsSource reports gateway counters.
type StatsSource interface {
	Stats() gateway.Stats
}

// UsageSource reports ledger usage for a provider.
type UsageSource interface {
	Usage(ctx context.Context, provider string) (engine.Usage, error)
}

// CompletionHandler serves POST /v1/completions.
type CompletionHandler struct {
	Completer Completer
}

func (h *CompletionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req ailink.CompletionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body must be a JSON completion request"))
		return
	}

	out, err := h.Completer.Complete(r.Context(), req)
	metrics.RecordCompletion("http", err, time.Since(started))
	if err != nil {
		if stderrors.Is(err, context.Canceled) && r.Context().Err() != nil {
			// Client went away; the request stays queued and nobody reads the answer.
			return
		}
		respondWithError(w, r, apperrors.FromGatewayError(r.Context(), err))
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// GatewayStatsResponse is the body of GET /v1/gateway/stats.
type GatewayStatsResponse struct {
	Gateway gateway.Stats `json:"gateway"`
	Usage   *engine.Usage `json:"usage,omitempty"`
}

// GatewayStatsHandler serves GET /v1/gateway/stats.
type GatewayStatsHandler struct {
	Stats    StatsSource
	Usage    UsageSource
	Provider string
}

func (h *GatewayStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := GatewayStatsResponse{Gateway: h.Stats.Stats()}

	if h.Usage != nil && h.Provider != "" {
		usage, err := h.Usage.Usage(r.Context(), h.Provider)
		if err != nil {
			respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "unable to read provider usage"))
			return
		}
		resp.Usage = &usage
	}

	writeJSON(w, http.StatusOK, resp)
}

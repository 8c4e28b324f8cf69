package ailink

import (
	"context"
	"fmt"
	"strings"

	"github.com/vibecoder/aigateway/internal/ailink/content"
	"github.com/vibecoder/aigateway/internal/ailink/driver"
	"github.com/vibecoder/aigateway/internal/gateway"
)

// Gateway is the completion gateway every provider call goes through.
type Gateway = gateway.Gateway[*driver.Request, *driver.Response]

// DriverProvider adapts a driver to the gateway by classifying its errors.
type DriverProvider struct {
	Driver driver.Driver
}

// Invoke performs one completion call.
func (p DriverProvider) Invoke(ctx context.Context, req *driver.Request) gateway.Outcome[*driver.Response] {
	if p.Driver == nil {
		return gateway.NonRetryable[*driver.Response](fmt.Errorf("%w: no driver", driver.ErrNotConfigured))
	}
	resp, err := p.Driver.Complete(ctx, req)
	if err == nil {
		return gateway.Success(resp)
	}
	switch kind := Classify(err); kind {
	case gateway.KindRateLimited:
		return gateway.RateLimited[*driver.Response](err, RetryAfter(err))
	case gateway.KindTransient:
		return gateway.Transient[*driver.Response](err)
	default:
		return gateway.NonRetryable[*driver.Response](err)
	}
}

// NewGateway builds the gateway for a resolved provider.
func NewGateway(resolved *ResolvedProvider, cfg gateway.Config, opts ...gateway.Option) (*Gateway, error) {
	if resolved == nil || resolved.Driver == nil {
		return nil, fmt.Errorf("%w: provider not resolved", driver.ErrNotConfigured)
	}
	opts = append([]gateway.Option{gateway.WithName(resolved.ProviderID)}, opts...)
	return gateway.New[*driver.Request, *driver.Response](DriverProvider{Driver: resolved.Driver}, cfg, opts...)
}

// Message is a plain-text chat message.
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// CompletionRequest is what callers submit.
type CompletionRequest struct {
	Model          string                 `json:"model,omitempty"`
	Messages       []Message              `json:"messages"`
	Temperature    *float64               `json:"temperature,omitempty"`
	MaxTokens      *int                   `json:"max_tokens,omitempty"`
	ResponseFormat *driver.ResponseFormat `json:"response_format,omitempty"`
}

// Validate checks the request before it is queued.
func (r CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", driver.ErrInvalidRequest)
	}
	for i, msg := range r.Messages {
		switch strings.TrimSpace(msg.Role) {
		case "system", "user", "assistant":
		default:
			return fmt.Errorf("%w: message %d has unsupported role %q", driver.ErrInvalidRequest, i, msg.Role)
		}
		if strings.TrimSpace(msg.Content) == "" {
			return fmt.Errorf("%w: message %d is empty", driver.ErrInvalidRequest, i)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature must be between 0 and 2", driver.ErrInvalidRequest)
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", driver.ErrInvalidRequest)
	}
	return nil
}

// Completion is the result returned to callers.
type Completion struct {
	Content      string        `json:"content"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *driver.Usage `json:"usage,omitempty"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
}

// Client is the only path application code uses to reach a provider.
type Client struct {
	gw       *Gateway
	provider *ResolvedProvider
}

func NewClient(gw *Gateway, provider *ResolvedProvider) *Client {
	return &Client{gw: gw, provider: provider}
}

// Gateway exposes the underlying gateway for stats and shutdown.
func (c *Client) Gateway() *Gateway {
	return c.gw
}

// Provider returns the provider the client dispatches to.
func (c *Client) Provider() *ResolvedProvider {
	return c.provider
}

// Complete queues req behind every earlier completion and waits for the result.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	h, err := c.Submit(req)
	if err != nil {
		return nil, err
	}
	resp, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return c.toCompletion(resp), nil
}

// Submit queues req without waiting.
func (c *Client) Submit(req CompletionRequest) (*gateway.Handle[*driver.Response], error) {
	if c == nil || c.gw == nil {
		return nil, fmt.Errorf("%w: completion client", driver.ErrNotConfigured)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return c.gw.Submit(c.buildRequest(req))
}

// CompleteText sends a system and user prompt and returns the reply text.
func (c *Client) CompleteText(ctx context.Context, system, user string) (string, error) {
	var messages []Message
	if strings.TrimSpace(system) != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: user})

	out, err := c.Complete(ctx, CompletionRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	return out.Content, nil
}

// ToCompletion converts a raw driver response into the caller-facing shape.
func (c *Client) ToCompletion(resp *driver.Response) *Completion {
	return c.toCompletion(resp)
}

func (c *Client) buildRequest(req CompletionRequest) *driver.Request {
	model := strings.TrimSpace(req.Model)
	if model == "" && c.provider != nil {
		model = c.provider.Model
	}

	messages := make([]content.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, content.Text(strings.TrimSpace(msg.Role), msg.Content))
	}

	return &driver.Request{
		Model:          model,
		Messages:       messages,
		ResponseFormat: req.ResponseFormat,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
	}
}

func (c *Client) toCompletion(resp *driver.Response) *Completion {
	if resp == nil {
		return &Completion{}
	}
	out := &Completion{
		Content:      resp.Text(),
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Model:        resp.Model,
		Provider:     resp.Provider,
	}
	if out.Provider == "" && c.provider != nil {
		out.Provider = c.provider.ProviderID
	}
	return out
}

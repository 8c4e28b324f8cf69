package driver

import (
	"context"
	"errors"
	"strings"

	"github.com/vibecoder/aigateway/internal/ailink/content"
)

// ErrInvalidRequest marks requests a driver refused to send. They never succeed on retry.
var ErrInvalidRequest = errors.New("invalid completion request")

// ErrNotConfigured is returned when a driver is missing its endpoint or credentials.
var ErrNotConfigured = errors.New("driver not configured")

// Driver sends a single chat completion to one provider.
type Driver interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g., "perplexity").
	Name() string
}

// ResponseFormat specifies the expected response format.
type ResponseFormat struct {
	Type       string      `json:"type"` // "text", "json_object", "json_schema"
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema is the strict structured-output variant of ResponseFormat.
type JSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model          string
	Messages       []content.Message
	ResponseFormat *ResponseFormat
	Temperature    *float64
	MaxTokens      *int
	Metadata       map[string]string
}

// Response is a provider-agnostic completion response.
type Response struct {
	Content      []content.ContentBlock
	FinishReason string
	Usage        *Usage
	Model        string
	Provider     string
}

// Text joins the text blocks of the response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Content))
	for _, block := range r.Content {
		if block.Type == content.ContentTypeText || block.Type == content.ContentTypeJSON {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "")
}

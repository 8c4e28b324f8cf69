package openai

import (
	"fmt"
	"strings"

	"github.com/vibecoder/aigateway/internal/ailink/content"
	"github.com/vibecoder/aigateway/internal/ailink/driver"
)

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *responseJSONSpec `json:"json_schema,omitempty"`
}

type responseJSONSpec struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func buildChatRequest(req *driver.Request) (*chatCompletionRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is required", driver.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("%w: model is required", driver.ErrInvalidRequest)
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	payload := &chatCompletionRequest{
		Model:       strings.TrimSpace(req.Model),
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if rf := req.ResponseFormat; rf != nil && strings.TrimSpace(rf.Type) != "" {
		payload.ResponseFormat = &responseFormat{Type: rf.Type}
		if rf.JSONSchema != nil {
			payload.ResponseFormat.JSONSchema = &responseJSONSpec{
				Name:   rf.JSONSchema.Name,
				Strict: rf.JSONSchema.Strict,
				Schema: rf.JSONSchema.Schema,
			}
		}
	}

	return payload, nil
}

func convertMessages(messages []content.Message) ([]chatMessage, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: messages are required", driver.ErrInvalidRequest)
	}
	result := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		role := strings.TrimSpace(msg.Role)
		switch role {
		case "system", "user", "assistant":
		default:
			return nil, fmt.Errorf("%w: unsupported role %q", driver.ErrInvalidRequest, msg.Role)
		}
		contentValue, err := convertContent(msg.Content)
		if err != nil {
			return nil, err
		}
		result = append(result, chatMessage{Role: role, Content: contentValue})
	}
	return result, nil
}

func convertContent(blocks []content.ContentBlock) (interface{}, error) {
	if len(blocks) == 0 {
		return "", nil
	}
	if len(blocks) == 1 && blocks[0].Type == content.ContentTypeText {
		return blocks[0].Text, nil
	}

	converted := make([]contentBlock, 0, len(blocks))
	for _, block := range blocks {
		if block.Type != content.ContentTypeText && block.Type != content.ContentTypeJSON {
			return nil, fmt.Errorf("%w: unsupported content type: %s", driver.ErrInvalidRequest, block.Type)
		}
		converted = append(converted, contentBlock{Type: "text", Text: block.Text})
	}
	return converted, nil
}

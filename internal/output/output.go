package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Result is one completed batch job.
type Result struct {
	ID           string        `json:"id"`
	Prompt       string        `json:"prompt"`
	Model        string        `json:"model,omitempty"`
	Provider     string        `json:"provider,omitempty"`
	Content      string        `json:"content,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	TotalTokens  int           `json:"total_tokens,omitempty"`
	Error        string        `json:"error,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	Duration     time.Duration `json:"-"`
	DurationMS   int64         `json:"duration_ms"`
}

// NewResult stamps the job's elapsed time on r.
func NewResult(r Result, elapsed time.Duration) *Result {
	r.Duration = elapsed
	r.DurationMS = elapsed.Milliseconds()
	return &r
}

// OK reports whether the job produced a completion.
func (r *Result) OK() bool {
	return r != nil && r.Error == ""
}

// Summary counts batch outcomes.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Summarize counts results, skipping nil entries.
func Summarize(results []*Result) Summary {
	var s Summary
	for _, r := range results {
		if r == nil {
			continue
		}
		s.Total++
		if r.OK() {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}

// Formatter renders batch results.
type Formatter interface {
	FormatResults(results []*Result) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// FormatResults renders results using the requested format.
func FormatResults(format Format, results []*Result) (string, error) {
	return NewFormatter(format).FormatResults(results)
}

func marshalJSON(v any, indent bool) (string, error) {
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// preview collapses whitespace and truncates value to max runes.
func preview(value string, max int) string {
	clean := strings.Join(strings.Fields(value), " ")
	runes := []rune(clean)
	if max <= 0 || len(runes) <= max {
		return clean
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func statusLabel(r *Result) string {
	if r.OK() {
		return "ok"
	}
	if r.ErrorCode != "" {
		return "failed (" + strings.ToLower(r.ErrorCode) + ")"
	}
	return "failed"
}

func resultText(r *Result) string {
	if r.OK() {
		return r.Content
	}
	return r.Error
}

package output

import (
	"fmt"
	"strings"
	"time"
)

// MarkdownFormatter renders results as a markdown table followed by the full
// text of each completion.
type MarkdownFormatter struct{}

// FormatResults renders results as Markdown.
func (f *MarkdownFormatter) FormatResults(results []*Result) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Batch results\n\n")
	sb.WriteString("| ID | Model | Status | Time |\n")
	sb.WriteString("|----|-------|--------|------|\n")

	for _, r := range results {
		if r == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			escapeMarkdownCell(r.ID),
			escapeMarkdownCell(r.Model),
			escapeMarkdownCell(statusLabel(r)),
			r.Duration.Round(10*time.Millisecond).String(),
		))
	}

	s := Summarize(results)
	sb.WriteString(fmt.Sprintf("\n**Succeeded**: %d/%d\n", s.Succeeded, s.Total))

	for _, r := range results {
		if r == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n### %s\n\n", r.ID))
		sb.WriteString(fmt.Sprintf("> %s\n\n", preview(r.Prompt, 200)))
		sb.WriteString(strings.TrimSpace(resultText(r)))
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}

package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

const tablePreviewWidth = 60

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatResults renders one row per job with a summary footer.
func (f *TableFormatter) FormatResults(results []*Result) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Model", "Status", "Time", "Output"})

	for _, r := range results {
		if r == nil {
			continue
		}
		t.AppendRow(table.Row{
			r.ID,
			r.Model,
			statusLabel(r),
			r.Duration.Round(10 * time.Millisecond).String(),
			preview(resultText(r), tablePreviewWidth),
		})
	}

	s := Summarize(results)
	if s.Total > 0 {
		t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d succeeded", s.Succeeded, s.Total), "", ""})
	}

	return t.Render(), nil
}

package output

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

type jsonBatch struct {
	Summary Summary   `json:"summary"`
	Results []*Result `json:"results"`
}

// FormatResults renders the results and their summary as one JSON document.
func (f *JSONFormatter) FormatResults(results []*Result) (string, error) {
	kept := make([]*Result, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		kept = append(kept, r)
	}
	return marshalJSON(jsonBatch{Summary: Summarize(kept), Results: kept}, f.Indent)
}

package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vibecoder/aigateway/internal/output"
)

// outputSink is where a command writes its report: the command's stdout, or
// a file named by --out or derived under --out-dir.
type outputSink struct {
	writer io.Writer
	close  func() error
	path   string
}

func outputExtension(format output.Format) string {
	switch format {
	case output.FormatJSON:
		return "json"
	case output.FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

var nonFilename = regexp.MustCompile(`[^a-z0-9._-]+`)

func sanitizeFilename(value string) string {
	clean := strings.Trim(nonFilename.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-"), "-.")
	if clean == "" {
		return "output"
	}
	return clean
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

// openOutputSink honours --out and --out-dir. Under --out-dir the file is
// named <stem>.<ext>; with neither flag output goes to the command's stdout.
func openOutputSink(cmd *cobra.Command, stem string, format output.Format) (*outputSink, error) {
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return nil, err
	}
	outDir, err := cmd.Flags().GetString("out-dir")
	if err != nil {
		return nil, err
	}
	outPath, outDir = strings.TrimSpace(outPath), strings.TrimSpace(outDir)

	switch {
	case outPath != "" && outDir != "":
		return nil, fmt.Errorf("--out and --out-dir are mutually exclusive")
	case outDir != "":
		outPath = filepath.Join(outDir, fmt.Sprintf("%s.%s", sanitizeFilename(stem), outputExtension(format)))
	case outPath == "" || outPath == "-":
		return &outputSink{writer: cmd.OutOrStdout(), close: func() error { return nil }, path: "-"}, nil
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(outPath)
	if err != nil {
		return nil, err
	}
	return &outputSink{writer: file, close: file.Close, path: outPath}, nil
}

func addOutputFlags(cmd *cobra.Command, defaultFormat output.Format, formats string) {
	cmd.Flags().String("output-format", string(defaultFormat), "Output format: "+formats)
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory")
}

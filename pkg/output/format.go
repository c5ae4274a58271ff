package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Format represents the output format type
type Format string

const (
	// FormatJSON is the default structured format
	FormatJSON Format = "json"
	// FormatText is the human-readable text format
	FormatText Format = "text"
	// FormatAuto picks text on a terminal and JSON otherwise
	FormatAuto Format = "auto"
)

// Formatter handles different output formats
type Formatter struct {
	format Format
	writer io.Writer
}

// New creates a new Formatter writing to stdout. FormatAuto is resolved against stdout.
func New(format Format) *Formatter {
	if format == FormatAuto {
		format = Detect(os.Stdout)
	}
	return &Formatter{
		format: format,
		writer: os.Stdout,
	}
}

// Detect returns FormatText when w is a terminal and FormatJSON otherwise
func Detect(w io.Writer) Format {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return FormatText
	}
	return FormatJSON
}

// SetWriter sets a custom writer for output (useful for testing)
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Writer returns the destination writer
func (f *Formatter) Writer() io.Writer {
	return f.writer
}

// Output writes data as JSON, or calls text to render it in text mode.
// A nil text falls back to the JSON rendering.
func (f *Formatter) Output(data interface{}, text func(w io.Writer) error) error {
	switch f.format {
	case FormatJSON:
		return f.outputJSON(data)
	case FormatText:
		if text == nil {
			return f.outputJSON(data)
		}
		return text(f.writer)
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// outputJSON marshals and outputs data as JSON
func (f *Formatter) outputJSON(data interface{}) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// IsJSON returns true if the format is JSON
func (f *Formatter) IsJSON() bool {
	return f.format == FormatJSON
}

// IsText returns true if the format is text
func (f *Formatter) IsText() bool {
	return f.format == FormatText
}

// Table writes rows under a header, aligned in columns
func Table(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// AddFormatFlag adds a persistent --output flag to a cobra command
func AddFormatFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("output", "o", string(FormatJSON), "Output format (json|text|auto)")
}

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(s)))
	switch format {
	case FormatJSON, FormatText, FormatAuto:
		return format, nil
	case "":
		return FormatJSON, nil
	default:
		return FormatJSON, fmt.Errorf("invalid output format: %s (must be 'json', 'text' or 'auto')", s)
	}
}

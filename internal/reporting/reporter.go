// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/stepdriver/internal/scenario"
)

// Supported report formats.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatJUnit = "junit"
)

// Reporter defines the interface for writing scenario reports to an output.
type Reporter interface {
	// Write processes a single scenario report.
	Write(report scenario.Report) error
	// Close finalizes the output and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format writing to outputPath, or to stdout when
// the path is empty or "stdout".
func New(format, outputPath string) (Reporter, error) {
	if outputPath == "" || outputPath == "stdout" {
		return NewWriter(format, os.Stdout)
	}
	if !Supported(format) {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	path, err := homedir.Expand(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to expand output path %s: %w", outputPath, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return newReporter(format, f)
}

// NewWriter creates a reporter writing to w. Closing the reporter does not
// close w.
func NewWriter(format string, w io.Writer) (Reporter, error) {
	return newReporter(format, &nopWriteCloser{w})
}

// Supported reports whether format names a known reporter.
func Supported(format string) bool {
	switch format {
	case FormatText, FormatJSON, FormatJUnit:
		return true
	}
	return false
}

func newReporter(format string, w io.WriteCloser) (Reporter, error) {
	switch format {
	case FormatText:
		return &TextReporter{w: w}, nil
	case FormatJSON:
		return &JSONReporter{w: w}, nil
	case FormatJUnit:
		return NewJUnitReporter(w), nil
	default:
		w.Close()
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
